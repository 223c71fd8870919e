package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLines reads a newline-delimited rule file, dropping blank and comment
// lines. A missing file or empty path yields no lines.
func LoadLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ln := strings.TrimSpace(sc.Text())
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		lines = append(lines, ln)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return lines, nil
}

// LoadRuleSet reads and compiles include and exclude files.
func LoadRuleSet(includePath, excludePath string) (*RuleSet, error) {
	inc, err := LoadLines(includePath)
	if err != nil {
		return nil, err
	}
	exc, err := LoadLines(excludePath)
	if err != nil {
		return nil, err
	}
	return Compile(inc, exc), nil
}

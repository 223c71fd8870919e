package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	MinHomeCount = 1
	MaxHomeCount = 20
)

// ServerSettings are the runtime-tunable knobs persisted next to the data.
type ServerSettings struct {
	HomeCount            int `json:"home_count"`
	PerFeedCap           int `json:"per_feed_cap"`
	PerDomainQuota       int `json:"per_domain_quota"`
	RecencyHalfLifeHours int `json:"recency_half_life_hours"`
}

func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		HomeCount:            5,
		PerFeedCap:           3,
		PerDomainQuota:       2,
		RecencyHalfLifeHours: 24,
	}
}

// Normalize clamps HomeCount to [MinHomeCount, MaxHomeCount] and resets
// nonsensical values to their defaults.
func (s ServerSettings) Normalize() ServerSettings {
	def := DefaultServerSettings()
	if s.HomeCount < MinHomeCount {
		s.HomeCount = MinHomeCount
	}
	if s.HomeCount > MaxHomeCount {
		s.HomeCount = MaxHomeCount
	}
	if s.PerFeedCap <= 0 {
		s.PerFeedCap = def.PerFeedCap
	}
	if s.PerDomainQuota < 0 {
		s.PerDomainQuota = def.PerDomainQuota
	}
	if s.RecencyHalfLifeHours <= 0 {
		s.RecencyHalfLifeHours = def.RecencyHalfLifeHours
	}
	return s
}

// LoadServerSettings reads path. A missing or unreadable file is replaced
// with the defaults, which are also returned.
func LoadServerSettings(path string) (ServerSettings, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		s := DefaultServerSettings()
		if jerr := json.Unmarshal(data, &s); jerr == nil {
			return s.Normalize(), nil
		}
	}
	return SaveServerSettings(path, DefaultServerSettings())
}

// SaveServerSettings normalizes s, writes it to path and returns what was written.
func SaveServerSettings(path string, s ServerSettings) (ServerSettings, error) {
	s = s.Normalize()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return s, fmt.Errorf("failed to create settings dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return s, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return s, fmt.Errorf("failed to write settings: %w", err)
	}
	return s, nil
}

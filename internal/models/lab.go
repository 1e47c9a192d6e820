package models

import (
	"errors"
	"strings"
	"time"
)

type Lab struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Capacity   int       `json:"capacity" yaml:"capacity"`
	Equipment  []string  `json:"equipment" yaml:"equipment"`
	Building   string    `json:"building" yaml:"building"`
	Floor      string    `json:"floor" yaml:"floor"`
	Status     string    `json:"status" yaml:"status"`
	HourlyRate int64     `json:"hourly_rate,omitempty" yaml:"hourly_rate"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"-"`
}

func (l *Lab) Clone() *Lab {
	if l == nil {
		return nil
	}
	c := *l
	c.Equipment = append([]string(nil), l.Equipment...)
	return &c
}

// Validate checks catalog invariants.
func (l *Lab) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("lab name is required")
	}
	if l.Capacity <= 0 {
		return errors.New("lab capacity must be positive")
	}
	if !IsValidLabStatus(l.Status) {
		return errors.New("lab status must be one of available, occupied, maintenance")
	}
	if l.HourlyRate < 0 {
		return errors.New("lab hourly rate must not be negative")
	}
	return nil
}

// MatchesSearch does a case-insensitive match on name or building.
func (l *Lab) MatchesSearch(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(l.Name), term) ||
		strings.Contains(strings.ToLower(l.Building), term)
}

// NormalizeEquipment trims, drops empty entries and de-duplicates.
func NormalizeEquipment(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[strings.ToLower(item)] {
			continue
		}
		seen[strings.ToLower(item)] = true
		out = append(out, item)
	}
	return out
}

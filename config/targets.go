package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// DweetTarget identifies the dweet.io-style notification sink.
type DweetTarget struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

// TimelineTarget identifies the spreadsheet timeline sink.
type TimelineTarget struct {
	DateFormat          string `json:"dateFormat"`
	RefreshIntervalMS   int64  `json:"refreshInterval"`
	SheetKey            string `json:"sheetKey"`
	CredentialsFilePath string `json:"credentialsFilePath"`
}

// RefreshInterval returns the minimum spacing between timeline pushes.
func (t *TimelineTarget) RefreshInterval() time.Duration {
	return time.Duration(t.RefreshIntervalMS) * time.Millisecond
}

var dweetKeys = []string{"name", "apiKey"}

var timelineKeys = []string{"dateFormat", "refreshInterval", "sheetKey", "credentialsFilePath"}

// ParseDweetTarget decodes and validates the --dweet JSON blob.
func ParseDweetTarget(blob string) (*DweetTarget, error) {
	if err := checkKnownKeys("dweet", blob, dweetKeys); err != nil {
		return nil, err
	}
	var target DweetTarget
	if err := json.UnmarshalFromString(blob, &target); err != nil {
		return nil, fmt.Errorf("dweet: invalid JSON: %w", err)
	}
	if strings.TrimSpace(target.Name) == "" {
		return nil, fmt.Errorf("dweet: \"name\" is required and must be a non-empty string")
	}
	return &target, nil
}

// ParseTimelineTarget decodes and validates the --timeline JSON blob. The
// credentials file must exist and contain valid JSON; the sheets client is
// constructed later by the caller.
func ParseTimelineTarget(blob string, readFile func(string) ([]byte, error)) (*TimelineTarget, error) {
	if err := checkKnownKeys("timeline", blob, timelineKeys); err != nil {
		return nil, err
	}
	var target TimelineTarget
	if err := json.UnmarshalFromString(blob, &target); err != nil {
		return nil, fmt.Errorf("timeline: invalid JSON: %w", err)
	}
	if strings.TrimSpace(target.DateFormat) == "" {
		return nil, fmt.Errorf("timeline: \"dateFormat\" is required and must be a non-empty string")
	}
	if target.RefreshIntervalMS <= 0 {
		return nil, fmt.Errorf("timeline: \"refreshInterval\" is required and must be a positive number of milliseconds")
	}
	if strings.TrimSpace(target.SheetKey) == "" {
		return nil, fmt.Errorf("timeline: \"sheetKey\" is required and must be a non-empty string")
	}
	if strings.TrimSpace(target.CredentialsFilePath) == "" {
		return nil, fmt.Errorf("timeline: \"credentialsFilePath\" is required and must be a non-empty string")
	}
	creds, err := readFile(target.CredentialsFilePath)
	if err != nil {
		return nil, fmt.Errorf("timeline: cannot read credentials file: %w", err)
	}
	var probe map[string]interface{}
	if err := json.Unmarshal(creds, &probe); err != nil {
		return nil, fmt.Errorf("timeline: credentials file %q is not valid JSON credentials: %w", target.CredentialsFilePath, err)
	}
	return &target, nil
}

// ValidateWindow enforces the time-window rules: an end without a start must
// be strictly in the future (the start defaults to now), and an explicit
// start must precede the end.
func ValidateWindow(from, to time.Time, now time.Time) error {
	if !to.IsZero() {
		if from.IsZero() {
			if !to.After(now) {
				return fmt.Errorf("the --to date (%s) must be in the future when no --from date is set", to.Format(time.RFC3339))
			}
		} else if !from.Before(to) {
			return fmt.Errorf("the --from date (%s) must precede the --to date (%s)", from.Format(time.RFC3339), to.Format(time.RFC3339))
		}
	}
	return nil
}

// checkKnownKeys rejects unknown top-level keys in a target blob, suggesting
// the closest known key so typos like "apikey" surface immediately instead of
// silently disabling a field.
func checkKnownKeys(label, blob string, known []string) error {
	var raw map[string]interface{}
	if err := json.UnmarshalFromString(blob, &raw); err != nil {
		return fmt.Errorf("%s: invalid JSON: %w", label, err)
	}
	var unknown []string
	for key := range raw {
		if !containsKey(known, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	key := unknown[0]
	if suggestion, ok := nearestKey(key, known); ok {
		return fmt.Errorf("%s: unknown key %q (did you mean %q?)", label, key, suggestion)
	}
	return fmt.Errorf("%s: unknown key %q", label, key)
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// nearestKey returns the known key with the smallest edit distance, capped at
// 3 so wildly different keys get no misleading suggestion.
func nearestKey(key string, known []string) (string, bool) {
	best := ""
	bestDist := 4
	for _, candidate := range known {
		dist := levenshtein.ComputeDistance(strings.ToLower(key), strings.ToLower(candidate))
		if dist < bestDist {
			bestDist = dist
			best = candidate
		}
	}
	return best, best != ""
}

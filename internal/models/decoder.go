// Package models decodes feature suffixes encoded in a client-supplied
// model name into routing flags, per §4.G.
package models

import (
	"strconv"
	"strings"
)

// Features holds the decoded flags for a requested model name.
type Features struct {
	BaseName        string
	FakeStreaming   bool
	AntiTruncation  bool
	Search          bool
	ThinkingBudget  *int
	IncludeThoughts bool
}

// SuffixConfig enumerates the recognized suffix tokens. The token strings
// can be changed, but the set of features they map to is fixed.
type SuffixConfig struct {
	SearchSuffix         string
	FakeStreamSuffix     string
	AntiTruncationSuffix string
	MaxThinkingSuffix    string
	NoThinkingSuffix     string
	ThinkingPrefix       string // e.g. "-thinking-" followed by an integer budget
}

// DefaultSuffixConfig mirrors the conventions used by the source system.
func DefaultSuffixConfig() SuffixConfig {
	return SuffixConfig{
		SearchSuffix:         "-search",
		FakeStreamSuffix:     "-fake-stream",
		AntiTruncationSuffix: "-anti-trunc",
		MaxThinkingSuffix:    "-maxthinking",
		NoThinkingSuffix:     "-nothinking",
		ThinkingPrefix:       "-thinking-",
	}
}

// Decode parses a model name into its base name and feature flags using
// the default suffix configuration.
func Decode(modelName string) Features {
	return DecodeWithConfig(modelName, DefaultSuffixConfig())
}

// DecodeWithConfig parses a model name into its base name and feature
// flags, trimming recognized suffixes in any order until none remain.
// Unrecognized trailing tokens are left as part of the base name.
func DecodeWithConfig(modelName string, cfg SuffixConfig) Features {
	f := Features{BaseName: modelName}

	changed := true
	for changed {
		changed = false

		if cfg.SearchSuffix != "" && strings.HasSuffix(f.BaseName, cfg.SearchSuffix) {
			f.Search = true
			f.BaseName = strings.TrimSuffix(f.BaseName, cfg.SearchSuffix)
			changed = true
			continue
		}
		if cfg.FakeStreamSuffix != "" && strings.HasSuffix(f.BaseName, cfg.FakeStreamSuffix) {
			f.FakeStreaming = true
			f.BaseName = strings.TrimSuffix(f.BaseName, cfg.FakeStreamSuffix)
			changed = true
			continue
		}
		if cfg.AntiTruncationSuffix != "" && strings.HasSuffix(f.BaseName, cfg.AntiTruncationSuffix) {
			f.AntiTruncation = true
			f.BaseName = strings.TrimSuffix(f.BaseName, cfg.AntiTruncationSuffix)
			changed = true
			continue
		}
		if cfg.MaxThinkingSuffix != "" && strings.HasSuffix(f.BaseName, cfg.MaxThinkingSuffix) {
			budget := 32768
			f.ThinkingBudget = &budget
			f.IncludeThoughts = true
			f.BaseName = strings.TrimSuffix(f.BaseName, cfg.MaxThinkingSuffix)
			changed = true
			continue
		}
		if cfg.NoThinkingSuffix != "" && strings.HasSuffix(f.BaseName, cfg.NoThinkingSuffix) {
			budget := 0
			f.ThinkingBudget = &budget
			f.BaseName = strings.TrimSuffix(f.BaseName, cfg.NoThinkingSuffix)
			changed = true
			continue
		}
		if cfg.ThinkingPrefix != "" {
			if idx := strings.LastIndex(f.BaseName, cfg.ThinkingPrefix); idx >= 0 {
				rest := f.BaseName[idx+len(cfg.ThinkingPrefix):]
				if n, err := strconv.Atoi(rest); err == nil {
					f.ThinkingBudget = &n
					f.IncludeThoughts = true
					f.BaseName = f.BaseName[:idx]
					changed = true
					continue
				}
			}
		}
	}

	return f
}

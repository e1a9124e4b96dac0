package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Source kinds
const (
	SourceKindPattern  = "pattern"
	SourceKindSelector = "selector"
)

// Ingestion policies a source may request
const (
	PolicyAcceptAll    = "accept_all"
	PolicySkipNotNewer = "skip_not_newer"
)

// SourcesFile is the top-level layout of the sources YAML file
type SourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one scrape target
type SourceConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Bank    string `yaml:"bank"`
	URL     string `yaml:"url"`
	Referer string `yaml:"referer,omitempty"`
	Policy  string `yaml:"policy,omitempty"`

	// DateFormat is a Go time layout, e.g. "02-01-2006".
	DateFormat string `yaml:"date_format"`
	// DecimalComma converts "4,7642" to "4.7642" before parsing.
	DecimalComma bool `yaml:"decimal_comma,omitempty"`

	// Pattern sources: one fund per page, Pattern must expose the named
	// groups "date" and "value".
	Fund    string `yaml:"fund,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`

	// Selector sources: one fund per Block element.
	Selectors SelectorConfig `yaml:"selectors,omitempty"`
}

// SelectorConfig holds the CSS selectors of a selector source. DatePattern
// and ValuePattern optionally narrow the element text with a regex whose
// first group is used.
type SelectorConfig struct {
	Block        string `yaml:"block"`
	Name         string `yaml:"name"`
	Date         string `yaml:"date"`
	Value        string `yaml:"value"`
	DatePattern  string `yaml:"date_pattern,omitempty"`
	ValuePattern string `yaml:"value_pattern,omitempty"`
}

// LoadSources reads and validates the sources file at path
func LoadSources(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes a sources document
func ParseSources(data []byte) ([]SourceConfig, error) {
	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range file.Sources {
		s := &file.Sources[i]
		if s.Name == "" {
			s.Name = s.Bank
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("source %d (%s): %w", i, s.Name, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate source name: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return file.Sources, nil
}

// Validate checks a single source definition
func (s *SourceConfig) Validate() error {
	if s.Bank == "" {
		return errors.New("bank is required")
	}
	if s.URL == "" {
		return errors.New("url is required")
	}
	if s.DateFormat == "" {
		return errors.New("date_format is required")
	}
	switch s.Policy {
	case PolicyAcceptAll, PolicySkipNotNewer:
	case "":
		return errors.New("policy is required (accept_all or skip_not_newer)")
	default:
		return fmt.Errorf("unknown policy %q", s.Policy)
	}

	switch s.Kind {
	case SourceKindPattern:
		if s.Fund == "" {
			return errors.New("fund is required for pattern sources")
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		if re.SubexpIndex("date") < 0 || re.SubexpIndex("value") < 0 {
			return errors.New(`pattern must define the groups "date" and "value"`)
		}
	case SourceKindSelector:
		sel := s.Selectors
		if sel.Block == "" || sel.Name == "" || sel.Date == "" || sel.Value == "" {
			return errors.New("selectors block, name, date and value are required")
		}
		for _, p := range []string{sel.DatePattern, sel.ValuePattern} {
			if p == "" {
				continue
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid selector pattern: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JobOverride adjusts one built-in scheduler job.
type JobOverride struct {
	Period   Duration `yaml:"period"`
	Disabled bool     `yaml:"disabled"`
}

type jobsFile struct {
	Jobs map[string]JobOverride `yaml:"jobs"`
}

// LoadJobOverrides reads per-job schedule overrides from a YAML file.
// A missing path returns an empty map; unknown job names are the caller's
// problem, since the registry owns the set of valid names.
func LoadJobOverrides(path string) (map[string]JobOverride, error) {
	if path == "" {
		return map[string]JobOverride{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	var f jobsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse jobs file: %w", err)
	}
	for name, o := range f.Jobs {
		if !o.Disabled && o.Period <= 0 {
			return nil, fmt.Errorf("jobs file: job %q: period must be positive", name)
		}
	}
	if f.Jobs == nil {
		f.Jobs = map[string]JobOverride{}
	}
	return f.Jobs, nil
}

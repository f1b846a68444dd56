package srs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/studyportal/studysync/internal/schema"
)

// Default is used when a subject references an SRS the cache does not hold.
var Default = schema.SRS{
	ID:      1,
	Title:   "default",
	Timings: []int{4, 8, 23, 47, 167, 335, 719, 2879},
	OK:      5,
}

// File is the on-disk format of local schedule overrides.
type File struct {
	Schedules []schema.SRS `yaml:"schedules"`
}

// LoadFile reads schedule overrides from a YAML file:
//
//	schedules:
//	  - id: 1
//	    title: fast
//	    timings: [4, 8, 23]
//	    ok: 2
func LoadFile(path string) ([]schema.SRS, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file %s: %w", path, err)
	}

	for i := range f.Schedules {
		if err := f.Schedules[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d in %s: %w", f.Schedules[i].ID, path, err)
		}
	}
	return f.Schedules, nil
}

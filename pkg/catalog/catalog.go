// pkg/catalog/catalog.go
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

//go:embed jobtypes.json
var embedded []byte

// Default returns the catalog compiled into the binary.
func Default() (*JobCatalog, error) {
	return Parse(embedded)
}

// LoadCatalog reads a catalog from disk, for operators overriding the built-in one.
func LoadCatalog(path string) (*JobCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*JobCatalog, error) {
	var c JobCatalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse job catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Lookup returns the spec for a job type.
func (c *JobCatalog) Lookup(jobType string) (JobSpec, bool) {
	for _, spec := range c.JobTypes {
		if spec.Type == jobType {
			return spec, true
		}
	}
	return JobSpec{}, false
}

// Types returns the catalogued job types, sorted.
func (c *JobCatalog) Types() []string {
	out := make([]string, 0, len(c.JobTypes))
	for _, spec := range c.JobTypes {
		out = append(out, spec.Type)
	}
	sort.Strings(out)
	return out
}

// Validate checks the catalog is internally consistent.
func (c *JobCatalog) Validate() error {
	seen := make(map[string]bool, len(c.JobTypes))
	for _, spec := range c.JobTypes {
		if spec.Type == "" {
			return fmt.Errorf("job catalog entry without type")
		}
		if seen[spec.Type] {
			return fmt.Errorf("duplicate job type %q", spec.Type)
		}
		seen[spec.Type] = true

		if spec.DefaultPolicy.MaxAttempts < 1 {
			return fmt.Errorf("job type %q: maxAttempts must be at least 1", spec.Type)
		}
		switch spec.DefaultPolicy.Backoff {
		case "fixed", "exponential":
		default:
			return fmt.Errorf("job type %q: unknown backoff %q", spec.Type, spec.DefaultPolicy.Backoff)
		}
		if spec.PayloadSchema == nil {
			return fmt.Errorf("job type %q: payloadSchema is required", spec.Type)
		}
	}
	return nil
}

package suite

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a suite document. Callers run Validate on the
// result before handing it to a Runner.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse suite %s: %w", path, err)
	}
	return &doc, nil
}

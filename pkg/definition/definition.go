package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Batch is a named set of step definitions.
type Batch struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Step declares one step of a batch.
type Step struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	// After lists ordering-only dependencies.
	After []string `json:"after,omitempty"`

	// Needs lists dependencies whose values the step reads.
	Needs []string `json:"needs,omitempty"`

	Args map[string]any `json:"args,omitempty"`
}

// StepIDs returns the step ids in declaration order.
func (b *Batch) StepIDs() []string {
	ids := make([]string, len(b.Steps))
	for i, s := range b.Steps {
		ids[i] = s.ID
	}
	return ids
}

// StringArg returns the named argument as a string.
func (s *Step) StringArg(name string) (string, bool) {
	v, ok := s.Args[name]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// NumberArg returns the named argument as a float64.
func (s *Step) NumberArg(name string) (float64, bool) {
	switch v := s.Args[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// LoadFile reads a definition, choosing the format by file extension.
func LoadFile(path string) (*Batch, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl":
		return ParseHCL(src, path)
	case ".json":
		return ParseJSON(src)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", ext)
	}
}

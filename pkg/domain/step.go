package domain

import (
	"fmt"
	"strings"
)

// StepID names a step's role in a batch. It is also the key of the value the step produces.
type StepID string

// NewStepID creates a StepID from a name.
func NewStepID(name string) (StepID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("step id is required")
	}
	return StepID(name), nil
}

// MustStepID is like NewStepID but panics on an invalid name.
// Intended for package-level step identity declarations.
func MustStepID(name string) StepID {
	id, err := NewStepID(name)
	if err != nil {
		panic(err)
	}
	return id
}

func (id StepID) String() string {
	return string(id)
}

// JoinStepIDs renders ids as a comma separated list.
func JoinStepIDs(ids []StepID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

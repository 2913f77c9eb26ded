// Package uuid generates task and request identifiers backed by google/uuid.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// ShortLen is the length of a task id: the first eight hex digits of a v4 UUID.
const ShortLen = 8

// Generator creates identifiers. The zero value is ready to use.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a short, URL-safe task id. Eight hex digits give 2^32 values,
// so callers that need uniqueness must check against their live set.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return id.String()[:ShortLen], nil
}

// NewRequestID returns a full, time-ordered UUID7 string for request correlation.
func (Generator) NewRequestID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

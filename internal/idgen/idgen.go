// Package idgen generates UUIDv7 string identifiers. No other package in
// this module imports it: embedded child references come from the
// plugin, and run identities from configuration.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, time-ordered so store indices on
// insertion order stay meaningful.
type Generator struct{}

// New constructs a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idgen: generate uuid7: %w", err)
	}
	return id.String(), nil
}

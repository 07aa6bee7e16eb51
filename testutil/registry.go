package testutil

import (
	"time"

	"github.com/skosovsky/llmio"
)

// NewTestRegistry returns a Registry with a long timeout and panic recovery enabled,
// suitable for tests. It panics if a tool cannot be registered.
func NewTestRegistry(tools ...llmio.Tool) *llmio.Registry {
	reg := llmio.NewRegistry(
		llmio.WithDefaultTimeout(30*time.Second),
		llmio.WithRecoverPanics(true),
	)
	reg.MustRegister(tools...)
	return reg
}

package idgen

import "github.com/google/uuid"

// NewFunc generates identifiers; tests may replace it for determinism.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new globally unique identifier
func New() string { return NewFunc() }

// WithPrefix returns a new identifier qualified by kind, e.g. "run-<uuid>"
func WithPrefix(kind string) string { return kind + "-" + NewFunc() }

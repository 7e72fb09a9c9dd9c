// Package session owns the per-session state of the reporting layer: the
// session context, the goroutine-scoped current test/session store, and
// the context service that every public API call mutates state through.
package session

import (
	"github.com/google/uuid"
	"github.com/proofy/proofy-go/config"
	"github.com/proofy/proofy-go/model"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Context is the per-test-session record. It maps test ids to their
// results in insertion order, so backups and lazy flushes see tests in
// execution order.
type Context struct {
	// Locally generated session identifier
	SessionID string
	// Server-assigned run ID (0 until the run is created)
	RunID int64
	// Run display name
	RunName string
	// Run-level attributes, clamped before they hit the wire
	RunAttributes map[string]any
	// Test id -> result, insertion order preserved
	Results *orderedmap.OrderedMap[string, *model.TestResult]
	// Resolved configuration for this session
	Config *config.Config
}

// NewContext creates a session context with a fresh session id.
func NewContext(runID int64, cfg *config.Config) *Context {
	return &Context{
		SessionID:     uuid.New().String(),
		RunID:         runID,
		RunAttributes: map[string]any{},
		Results:       orderedmap.New[string, *model.TestResult](),
		Config:        cfg,
	}
}

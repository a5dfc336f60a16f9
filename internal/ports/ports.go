package ports

import (
	"context"

	"flow-agent/internal/entity"

	"github.com/playwright-community/playwright-go"
)

// SessionManager owns the process-wide browser session. Acquire is
// idempotent: while the underlying browser stays connected it keeps
// returning the same session.
type SessionManager interface {
	Acquire(ctx context.Context) (entity.SessionInfo, error)
	NewPage(ctx context.Context) (playwright.Page, error)
	Probe(ctx context.Context) bool
	Close(ctx context.Context) error
}

// VideoGenerator runs one generation request end to end. Failures never
// escape as errors; they are folded into the result value.
type VideoGenerator interface {
	Generate(ctx context.Context, req *entity.VideoGenerationRequest, progress entity.ProgressFunc) *entity.VideoGenerationResult
}

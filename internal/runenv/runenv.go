// Package runenv carries the per-run collaborators every stage shares.
package runenv

import (
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/eprints-archiver/internal/credentials"
	"github.com/JakeFAU/eprints-archiver/internal/progress"
)

// Env is created at run start and torn down when the run ends. Cancellation
// travels separately through context.Context.
type Env struct {
	Logger *zap.Logger
	// Progress receives discovery and dispatch events.
	Progress *progress.Reporter
	// Credentials serves at most one store lookup per server.
	Credentials *credentials.Cache
	// Out receives the end-of-run summary.
	Out   io.Writer
	Color bool
	// Debug is the debug trace destination, recorded for the run summary.
	Debug string
}

// New returns an Env with safe defaults for nil collaborators.
func New(logger *zap.Logger, reporter *progress.Reporter, creds *credentials.Cache, out io.Writer) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	if creds == nil {
		creds = credentials.NewCache(nil)
	}
	if out == nil {
		out = io.Discard
	}
	return &Env{
		Logger:      logger,
		Progress:    reporter,
		Credentials: creds,
		Out:         out,
	}
}

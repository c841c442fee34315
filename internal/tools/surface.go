// Package tools is the single writer interface over the store: every board
// mutation, whether it arrives from the HTTP adapter or from an in-flight
// agent over the stdio tool protocol, goes through a Surface operation. Each
// operation runs in one transaction and writes its event row inside it.
package tools

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/store"
)

var tracer = otel.Tracer("github.com/viberelay/relay/internal/tools")

// RepoValidator is the slice of the git executor create_project needs.
type RepoValidator interface {
	// IsWorkingTree reports whether path is inside a git working tree.
	IsWorkingTree(ctx context.Context, path string) (bool, error)
	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context, path string) (string, error)
}

// Surface exposes the tool operations.
type Surface struct {
	store *store.Store
	repos RepoValidator
	cfg   config.Config
}

// New creates a Surface. repos may be nil, in which case repo_path inputs are
// accepted unvalidated (used by tests).
func New(s *store.Store, cfg config.Config, repos RepoValidator) *Surface {
	return &Surface{store: s, repos: repos, cfg: cfg}
}

// Store exposes the underlying store for read-only collaborators.
func (s *Surface) Store() *store.Store {
	return s.store
}

// emit appends an event row on the given querier, typically the operation's
// transaction.
func emit(ctx context.Context, q store.Querier, p events.Payload) error {
	payload, err := events.Marshal(p)
	if err != nil {
		return err
	}
	return store.InsertEvent(ctx, q, &store.Event{
		ID:        uuid.NewString(),
		Type:      string(p.EventType()),
		Payload:   payload,
		CreatedAt: store.FormatTime(store.Now()),
	})
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tools."+op, trace.WithAttributes(attrs...))
}

package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/store"
)

// ConfigApplier is the external configuration-write collaborator. Applying
// an adjustment commits it to whatever system owns the live configuration;
// the coordinator only decides when to call it.
type ConfigApplier interface {
	Apply(ctx context.Context, adj store.Adjustment) error
}

// LogApplier records applied adjustments in the structured log without
// touching any live configuration. The default when no real collaborator
// is wired in.
type LogApplier struct {
	Log *zap.Logger
}

func (l *LogApplier) Apply(_ context.Context, adj store.Adjustment) error {
	l.Log.Info("configuration adjustment applied",
		zap.String("kind", string(adj.Kind)),
		zap.String("parameter", adj.Parameter()),
		zap.String("change", adj.String()))
	return nil
}

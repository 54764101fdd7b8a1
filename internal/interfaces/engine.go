package interfaces

import (
	"context"
	"time"
)

// Engine runs one bounded scan cycle over all configured symbols.
type Engine interface {
	Tick(ctx context.Context) error

	// PauseUntil reports when a tripped breaker allows cycles to resume;
	// the zero time means no pause is active.
	PauseUntil() time.Time
}

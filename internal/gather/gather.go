// Package gather defines the interface shared by market-data gatherers that
// feed the price store.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it is complete or
	// ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive span of calendar days to fetch.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the range contains no days.
func (r DateRange) Empty() bool {
	return r.End.Before(r.Start)
}

// Package handlers wires commands to the domain aggregates.
//
// Every handler follows the same protocol: load the aggregate, run
// cross-aggregate pre-checks, execute the domain method, persist the
// recorded events, return them. Validation runs earlier in the middleware
// chain; optimistic-concurrency retries run outside the handler too, so a
// handler executes at most once per attempt and never loops itself.
//
// Gateway-backed steps (inventory, payment, shipping) call out through the
// resilient client before persisting, so an order never records work the
// gateway refused.
package handlers

import (
	"context"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// persist captures the aggregate's recorded events and saves them.
// The returned slice carries store-assigned global sequences.
func persist[T eventsourcing.Aggregate](ctx context.Context, repo eventsourcing.Repository[T], aggregate T) ([]*eventsourcing.Event, error) {
	events := aggregate.UncommittedEvents()
	if len(events) == 0 {
		return nil, nil
	}
	if err := repo.Save(ctx, aggregate); err != nil {
		return nil, err
	}
	return events, nil
}

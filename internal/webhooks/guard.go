// Package webhooks deduplicates provider callbacks. Providers retry
// aggressively; every handler consults the guard before any side effect.
package webhooks

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Status string

const (
	// StatusFresh means this provider id has not been seen; proceed.
	StatusFresh Status = "fresh"
	// StatusDuplicate means the event was already processed.
	StatusDuplicate Status = "duplicate"
	// StatusUnknown means the store could not answer. Policy: respond success
	// to the provider and defer the raw event (at-least-once beats a retry
	// storm).
	StatusUnknown Status = "unknown"
)

type Result struct {
	Status Status
	// PriorInternalID is set on duplicates: the internal id recorded when the
	// event was first processed.
	PriorInternalID string
}

type Event struct {
	ProviderID  string
	Kind        string
	TenantID    string
	ProcessedAt time.Time
	InternalID  string
}

// Repository records processed provider ids. Insert must be atomic: exactly
// one caller wins for a given provider id.
type Repository interface {
	// Insert returns inserted=false with the prior row when the id exists.
	Insert(ctx context.Context, e Event) (inserted bool, prior Event, err error)
}

// SubEventKey builds the idempotency key for callbacks that share one
// provider call id, such as per-status dial callbacks.
func SubEventKey(providerID, subStatus string) string {
	return providerID + "_status_" + subStatus
}

const cacheSize = 4096

// Guard answers "have we processed this event". The store is the source of
// truth; the LRU only backs the store-down path and never authorizes a
// consequential write by itself.
type Guard struct {
	repo  Repository
	cache *lru.Cache[string, string]
	clock func() time.Time
}

func NewGuard(repo Repository) *Guard {
	cache, _ := lru.New[string, string](cacheSize)
	return &Guard{repo: repo, cache: cache, clock: time.Now}
}

// Check records the event and reports whether it is fresh. kind and
// internalID are stored for duplicate correlation.
func (g *Guard) Check(ctx context.Context, providerID, kind, tenantID, internalID string) Result {
	inserted, prior, err := g.repo.Insert(ctx, Event{
		ProviderID:  providerID,
		Kind:        kind,
		TenantID:    tenantID,
		ProcessedAt: g.clock().UTC(),
		InternalID:  internalID,
	})
	if err != nil {
		// Store down. The cache can still prove a duplicate; it cannot prove
		// freshness.
		if priorID, ok := g.cache.Get(providerID); ok {
			return Result{Status: StatusDuplicate, PriorInternalID: priorID}
		}
		return Result{Status: StatusUnknown}
	}
	if !inserted {
		g.cache.Add(providerID, prior.InternalID)
		return Result{Status: StatusDuplicate, PriorInternalID: prior.InternalID}
	}
	g.cache.Add(providerID, internalID)
	return Result{Status: StatusFresh}
}

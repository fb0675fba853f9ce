// Package remote is the boundary to the authoritative record store.
//
// The cache never trusts its own copy over what a Store returns: reads replace
// cached collections wholesale and inserts are reconciled by refetching.
package remote

import (
	"context"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// Operation names used in metrics, spans and breaker logs.
const (
	OpListByOwner = "list_by_owner"
	OpInsert      = "insert"
)

// Store performs authoritative reads and writes.
type Store interface {
	// ListByOwner returns every record of kind owned by ownerID, ordered by
	// CreatedAt ascending.
	ListByOwner(ctx context.Context, kind, ownerID string) ([]medication.Record, error)

	// Insert writes one record and returns it with the server-assigned
	// identifier and timestamp.
	Insert(ctx context.Context, kind, ownerID string, fields medication.Fields) (medication.Record, error)
}

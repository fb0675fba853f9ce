package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// supabaseRow is the PostgREST representation of a record. The table name is
// the record kind; ownership lives in user_id.
type supabaseRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage"`
	Frequency string    `json:"frequency"`
}

// supabaseInsert omits the columns the database assigns.
type supabaseInsert struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

func (r supabaseRow) record() medication.Record {
	return medication.Record{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		OwnerID:   r.UserID,
		Fields: medication.Fields{
			Name:      r.Name,
			Dosage:    r.Dosage,
			Frequency: r.Frequency,
		},
	}
}

// Supabase reads and writes records through the Supabase REST API.
type Supabase struct {
	client *supabase.Client
}

// NewSupabase wraps an existing Supabase client.
func NewSupabase(client *supabase.Client) *Supabase {
	return &Supabase{client: client}
}

// ListByOwner implements Store.
func (s *Supabase) ListByOwner(ctx context.Context, kind, ownerID string) ([]medication.Record, error) {
	// The PostgREST client does not take a context, so cancellation is only
	// observed before the request starts.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []supabaseRow
	_, err := s.client.From(kind).
		Select("*", "", false).
		Eq("user_id", ownerID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s for owner %s: %w", kind, ownerID, err)
	}

	out := make([]medication.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// Insert implements Store.
func (s *Supabase) Insert(ctx context.Context, kind, ownerID string, fields medication.Fields) (medication.Record, error) {
	if err := ctx.Err(); err != nil {
		return medication.Record{}, err
	}

	row := supabaseInsert{
		UserID:    ownerID,
		Name:      fields.Name,
		Dosage:    fields.Dosage,
		Frequency: fields.Frequency,
	}

	var inserted []supabaseRow
	_, err := s.client.From(kind).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return medication.Record{}, fmt.Errorf("failed to insert into %s: %w", kind, err)
	}
	if len(inserted) != 1 {
		return medication.Record{}, fmt.Errorf("insert into %s returned %d rows, want 1", kind, len(inserted))
	}
	return inserted[0].record(), nil
}

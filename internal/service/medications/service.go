// Package medications is the UI-facing entry point to the medication cache:
// read the list, add a record optimistically, invalidate, and list the
// writes still waiting for the remote store.
package medications

import (
	"context"

	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/mutation"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/query"
)

// Service defines the operations the UI performs on the medication list.
type Service interface {
	// List returns the current owner's medications, fetching when stale
	List(ctx context.Context) (query.Result, error)

	// Add shows the record immediately and saves it in the background
	Add(ctx context.Context, fields medication.Fields) (*mutation.Mutation, error)

	// Invalidate forces the next List to go back to the remote store
	Invalidate(ctx context.Context) error

	// Pending lists placeholders whose save has not settled
	Pending(ctx context.Context) ([]medication.Record, error)
}

type service struct {
	queries   *query.Controller
	mutations *mutation.Controller
	logger    *zap.Logger
}

// NewService creates the medication service.
func NewService(queries *query.Controller, mutations *mutation.Controller, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		queries:   queries,
		mutations: mutations,
		logger:    logger,
	}
}

func (s *service) List(ctx context.Context) (query.Result, error) {
	return s.queries.Load(ctx, medication.Kind)
}

func (s *service) Add(ctx context.Context, fields medication.Fields) (*mutation.Mutation, error) {
	m, err := s.mutations.Mutate(ctx, medication.Kind, fields)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Medication added optimistically",
		zap.String("owner_id", m.Key().OwnerID),
		zap.String("placeholder_id", m.Placeholder().ID),
	)
	return m, nil
}

func (s *service) Invalidate(ctx context.Context) error {
	return s.queries.Invalidate(ctx, medication.Kind)
}

func (s *service) Pending(ctx context.Context) ([]medication.Record, error) {
	return s.mutations.Pending(ctx, medication.Kind)
}

package api

import (
	"time"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateMedicationRequest is the expected body for POST /api/v1/medications.
type CreateMedicationRequest struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// Fields converts the request into domain fields.
func (r CreateMedicationRequest) Fields() medication.Fields {
	return medication.Fields{
		Name:      r.Name,
		Dosage:    r.Dosage,
		Frequency: r.Frequency,
	}
}

// Medication is the API representation of a record. Pending marks a
// placeholder the remote store has not confirmed yet.
type Medication struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage,omitempty"`
	Frequency string    `json:"frequency,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Pending   bool      `json:"pending"`
}

// NewMedication converts a domain record.
func NewMedication(r medication.Record) Medication {
	return Medication{
		ID:        r.ID,
		Name:      r.Name,
		Dosage:    r.Dosage,
		Frequency: r.Frequency,
		CreatedAt: r.CreatedAt,
		Pending:   r.IsPlaceholder(),
	}
}

// NewMedications converts a collection, keeping its order. The result is
// never nil so it encodes as an empty JSON array.
func NewMedications(records []medication.Record) []Medication {
	out := make([]Medication, 0, len(records))
	for _, r := range records {
		out = append(out, NewMedication(r))
	}
	return out
}

// ListMedicationsResponse is the body of GET /api/v1/medications.
type ListMedicationsResponse struct {
	Status      string       `json:"status"`
	Loaded      bool         `json:"loaded"`
	Medications []Medication `json:"medications"`
	Error       string       `json:"error,omitempty"`
}

// MutationResponse is the body of POST /api/v1/medications.
type MutationResponse struct {
	State       string      `json:"state"`
	Placeholder Medication  `json:"placeholder"`
	Medication  *Medication `json:"medication,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// PendingResponse is the body of GET /api/v1/medications/pending.
type PendingResponse struct {
	Medications []Medication `json:"medications"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Provider    string `json:"provider"`
	Environment string `json:"environment"`
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/mutation"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/service/medications"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/api"
	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

// MedicationHandler handles medication requests.
type MedicationHandler struct {
	service medications.Service
	logger  *zap.Logger
}

// NewMedicationHandler creates a medication handler.
func NewMedicationHandler(service medications.Service, logger *zap.Logger) *MedicationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicationHandler{service: service, logger: logger}
}

// List handles GET /api/v1/medications. A failed refresh that still has
// cached data answers 200 with the error alongside the data.
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.List(r.Context())
	if err != nil && !(appErrors.IsRemoteReadFailed(err) && res.Present) {
		handleServiceError(w, r, h.logger, err)
		return
	}

	resp := api.ListMedicationsResponse{
		Status:      string(res.Status),
		Loaded:      res.Present,
		Medications: api.NewMedications(res.Records),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	api.Success(w, http.StatusOK, resp)
}

// Create handles POST /api/v1/medications. The placeholder is returned with
// 202 right away; with ?wait=true the handler waits for the remote store
// and answers 201 or the write error.
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req api.CreateMedicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "wait must be a boolean")
			return
		}
		wait = parsed
	}

	m, err := h.service.Add(r.Context(), req.Fields())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	resp := api.MutationResponse{
		State:       string(m.State()),
		Placeholder: api.NewMedication(m.Placeholder()),
	}
	if !wait {
		api.Success(w, http.StatusAccepted, resp)
		return
	}

	rec, err := m.Wait(r.Context())
	resp.State = string(m.State())
	switch {
	case err == nil:
		saved := api.NewMedication(rec)
		resp.Medication = &saved
		api.Success(w, http.StatusCreated, resp)
	case m.State() == mutation.StateRolledBack:
		resp.Error = err.Error()
		api.Success(w, statusFor(err), resp)
	default:
		// Gave up waiting; the write carries on in the background.
		api.Success(w, http.StatusAccepted, resp)
	}
}

// Invalidate handles POST /api/v1/medications/invalidate.
func (h *MedicationHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Invalidate(r.Context()); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pending handles GET /api/v1/medications/pending.
func (h *MedicationHandler) Pending(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Pending(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	api.Success(w, http.StatusOK, api.PendingResponse{Medications: api.NewMedications(records)})
}

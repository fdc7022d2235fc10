package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/client"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/service"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// HTTPHandler handles HTTP requests for the approval workflows and the
// read-only account and inventory views.
type HTTPHandler struct {
	transactions *service.TransactionService
	jobCards     *service.JobCardService
	variations   *service.VariationService
	accounts     *repository.AccountRepository
	inventory    *repository.InventoryRepository
	identity     client.IdentityProvider
	log          zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	transactions *service.TransactionService,
	jobCards *service.JobCardService,
	variations *service.VariationService,
	accounts *repository.AccountRepository,
	inventory *repository.InventoryRepository,
	identity client.IdentityProvider,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		transactions: transactions,
		jobCards:     jobCards,
		variations:   variations,
		accounts:     accounts,
		inventory:    inventory,
		identity:     identity,
		log:          log,
	}
}

// Register wires all routes onto mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/transactions", h.Transactions)
	mux.HandleFunc("/api/v1/transactions/get", h.GetTransaction)
	mux.HandleFunc("/api/v1/transactions/submit", h.SubmitTransaction)
	mux.HandleFunc("/api/v1/transactions/approve", h.ApproveTransaction)
	mux.HandleFunc("/api/v1/transactions/reject", h.RejectTransaction)

	mux.HandleFunc("/api/v1/job-cards", h.JobCards)
	mux.HandleFunc("/api/v1/job-cards/get", h.GetJobCard)
	mux.HandleFunc("/api/v1/job-cards/submit", h.SubmitJobCard)
	mux.HandleFunc("/api/v1/job-cards/approve", h.ApproveJobCard)
	mux.HandleFunc("/api/v1/job-cards/reject", h.RejectJobCard)
	mux.HandleFunc("/api/v1/job-cards/return", h.ReturnJobCardMaterials)
	mux.HandleFunc("/api/v1/job-cards/movements", h.GetJobCardMovements)

	mux.HandleFunc("/api/v1/variations", h.Variations)
	mux.HandleFunc("/api/v1/variations/get", h.GetVariation)
	mux.HandleFunc("/api/v1/variations/submit", h.SubmitVariation)
	mux.HandleFunc("/api/v1/variations/approve", h.ApproveVariation)
	mux.HandleFunc("/api/v1/variations/reject", h.RejectVariation)

	mux.HandleFunc("/api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("/api/v1/accounts/get", h.GetAccount)
	mux.HandleFunc("/api/v1/inventory/get", h.GetInventoryItem)
}

// decisionRequest is the body of submit/approve/reject calls.
type decisionRequest struct {
	ID    string `json:"id"`
	Stage string `json:"stage,omitempty"`
	Note  string `json:"note,omitempty"`
}

// ── Transactions ──────────────────────────────────────────────────────────────

// Transactions handles list and create transaction HTTP requests.
func (h *HTTPHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, limit, offset, err := listParams(r)
		if err != nil {
			h.writeError(w, err)
			return
		}
		txs, err := h.transactions.List(r.Context(), status, limit, offset)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})

	case http.MethodPost:
		var input service.CreateTransactionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			h.writeError(w, apperr.InvalidInput("body", "invalid JSON"))
			return
		}
		t, err := h.transactions.Create(r.Context(), input)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, t)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GetTransaction handles get transaction HTTP requests.
func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return
	}
	t, err := h.transactions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// SubmitTransaction handles submit transaction HTTP requests.
func (h *HTTPHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	t, err := h.transactions.Submit(r.Context(), req.ID, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// ApproveTransaction handles approve transaction HTTP requests.
func (h *HTTPHandler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	var t *repository.Transaction
	var err error
	switch stageOf(req) {
	case workflow.StageAccountant:
		t, err = h.transactions.ApproveAsAccountant(r.Context(), req.ID, actor, req.Note)
	case workflow.StageManager:
		t, err = h.transactions.ApproveAsManager(r.Context(), req.ID, actor, req.Note)
	default:
		err = apperr.InvalidInput("stage", "must be ACCOUNTANT or MANAGER")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// RejectTransaction handles reject transaction HTTP requests.
func (h *HTTPHandler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	var t *repository.Transaction
	var err error
	switch stageOf(req) {
	case workflow.StageAccountant:
		t, err = h.transactions.RejectAsAccountant(r.Context(), req.ID, actor, req.Note)
	case workflow.StageManager:
		t, err = h.transactions.RejectAsManager(r.Context(), req.ID, actor, req.Note)
	default:
		err = apperr.InvalidInput("stage", "must be ACCOUNTANT or MANAGER")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// ── Job cards ─────────────────────────────────────────────────────────────────

// JobCards handles list and create job card HTTP requests.
func (h *HTTPHandler) JobCards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, limit, offset, err := listParams(r)
		if err != nil {
			h.writeError(w, err)
			return
		}
		cards, err := h.jobCards.List(r.Context(), status, limit, offset)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"jobCards": cards})

	case http.MethodPost:
		var input service.CreateJobCardInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			h.writeError(w, apperr.InvalidInput("body", "invalid JSON"))
			return
		}
		j, err := h.jobCards.Create(r.Context(), input)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, j)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GetJobCard handles get job card HTTP requests.
func (h *HTTPHandler) GetJobCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return
	}
	j, err := h.jobCards.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

// SubmitJobCard handles submit job card HTTP requests.
func (h *HTTPHandler) SubmitJobCard(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	j, err := h.jobCards.Submit(r.Context(), req.ID, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

// ApproveJobCard handles approve job card HTTP requests.
func (h *HTTPHandler) ApproveJobCard(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	var j *repository.JobCard
	var err error
	switch stageOf(req) {
	case workflow.StageAccountant:
		j, err = h.jobCards.ApproveAsAccountant(r.Context(), req.ID, actor, req.Note)
	case workflow.StageManager:
		j, err = h.jobCards.ApproveAsManager(r.Context(), req.ID, actor, req.Note)
	default:
		err = apperr.InvalidInput("stage", "must be ACCOUNTANT or MANAGER")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

// RejectJobCard handles reject job card HTTP requests.
func (h *HTTPHandler) RejectJobCard(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	var j *repository.JobCard
	var err error
	switch stageOf(req) {
	case workflow.StageAccountant:
		j, err = h.jobCards.RejectAsAccountant(r.Context(), req.ID, actor, req.Note)
	case workflow.StageManager:
		j, err = h.jobCards.RejectAsManager(r.Context(), req.ID, actor, req.Note)
	default:
		err = apperr.InvalidInput("stage", "must be ACCOUNTANT or MANAGER")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

// ReturnJobCardMaterials handles material return HTTP requests.
func (h *HTTPHandler) ReturnJobCardMaterials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, err := h.resolveActor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		ID    string               `json:"id"`
		Lines []service.ReturnLine `json:"lines"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.ID == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return
	}

	j, err := h.jobCards.ReturnMaterials(r.Context(), req.ID, actor, req.Lines)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

// GetJobCardMovements handles job card movement listing HTTP requests.
func (h *HTTPHandler) GetJobCardMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return
	}
	movements, err := h.jobCards.GetMovements(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

// ── Variations ────────────────────────────────────────────────────────────────

// Variations handles list and create variation HTTP requests. Listing is
// scoped to a job card.
func (h *HTTPHandler) Variations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobCardID := r.URL.Query().Get("job_card_id")
		if jobCardID == "" {
			h.writeError(w, apperr.InvalidInput("job_card_id", "is required"))
			return
		}
		variations, err := h.variations.ListByJobCard(r.Context(), jobCardID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"variations": variations})

	case http.MethodPost:
		var input service.CreateVariationInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			h.writeError(w, apperr.InvalidInput("body", "invalid JSON"))
			return
		}
		v, err := h.variations.Create(r.Context(), input)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, v)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GetVariation handles get variation HTTP requests.
func (h *HTTPHandler) GetVariation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return
	}
	v, err := h.variations.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// SubmitVariation handles submit variation HTTP requests.
func (h *HTTPHandler) SubmitVariation(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	v, err := h.variations.Submit(r.Context(), req.ID, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// ApproveVariation handles approve variation HTTP requests.
func (h *HTTPHandler) ApproveVariation(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	var v *repository.Variation
	var err error
	switch stageOf(req) {
	case workflow.StageAccountant:
		v, err = h.variations.ApproveAsAccountant(r.Context(), req.ID, actor, req.Note)
	case workflow.StageManager:
		v, err = h.variations.ApproveAsManager(r.Context(), req.ID, actor, req.Note)
	default:
		err = apperr.InvalidInput("stage", "must be ACCOUNTANT or MANAGER")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// RejectVariation handles reject variation HTTP requests.
func (h *HTTPHandler) RejectVariation(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	var v *repository.Variation
	var err error
	switch stageOf(req) {
	case workflow.StageAccountant:
		v, err = h.variations.RejectAsAccountant(r.Context(), req.ID, actor, req.Note)
	case workflow.StageManager:
		v, err = h.variations.RejectAsManager(r.Context(), req.ID, actor, req.Note)
	default:
		err = apperr.InvalidInput("stage", "must be ACCOUNTANT or MANAGER")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// ── Accounts and inventory ────────────────────────────────────────────────────

// ListAccounts handles list account HTTP requests.
func (h *HTTPHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// GetAccount handles get account HTTP requests.
func (h *HTTPHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return
	}
	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// GetInventoryItem handles get inventory item HTTP requests.
func (h *HTTPHandler) GetInventoryItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return
	}
	item, err := h.inventory.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// decisionInput parses a decision body and resolves the acting user. On
// failure the response has already been written.
func (h *HTTPHandler) decisionInput(w http.ResponseWriter, r *http.Request) (decisionRequest, workflow.Actor, bool) {
	var req decisionRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, workflow.Actor{}, false
	}

	actor, err := h.resolveActor(r)
	if err != nil {
		h.writeError(w, err)
		return req, workflow.Actor{}, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid JSON"))
		return req, workflow.Actor{}, false
	}
	if req.ID == "" {
		h.writeError(w, apperr.InvalidInput("id", "is required"))
		return req, workflow.Actor{}, false
	}
	return req, actor, true
}

// resolveActor turns the X-User-ID header into a full actor via the
// identity provider.
func (h *HTTPHandler) resolveActor(r *http.Request) (workflow.Actor, error) {
	uid := r.Header.Get("X-User-ID")
	if uid == "" {
		return workflow.Actor{}, apperr.New(apperr.CodeForbidden, "missing X-User-ID header")
	}
	return h.identity.Resolve(r.Context(), uid)
}

func stageOf(req decisionRequest) workflow.Stage {
	switch strings.ToUpper(req.Stage) {
	case "ACCOUNTANT":
		return workflow.StageAccountant
	case "MANAGER":
		return workflow.StageManager
	default:
		return ""
	}
}

// listParams parses the shared status/limit/offset query parameters.
func listParams(r *http.Request) (*workflow.Status, int, int, error) {
	var status *workflow.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := workflow.Status(strings.ToUpper(raw))
		if !s.IsValid() {
			return nil, 0, 0, apperr.InvalidInput("status", "unknown status filter")
		}
		status = &s
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return status, limit, offset, nil
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the error taxonomy to HTTP status codes.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeForbidden:
		status = http.StatusForbidden
	case apperr.CodeValidationFailed:
		status = http.StatusBadRequest
	case apperr.CodeInvalidState, apperr.CodeConflict, apperr.CodeContention:
		status = http.StatusConflict
	case apperr.CodePostingFailed:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}

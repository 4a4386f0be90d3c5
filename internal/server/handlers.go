package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/middleware"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/orchestrator"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TenantDirectory reads the tenant registry
type TenantDirectory interface {
	ListTenants(ctx context.Context) ([]*model.Tenant, error)
	GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error)
}

// TenantRunner controls tenant workers
type TenantRunner interface {
	Start(ctx context.Context, tenantID int64) error
	Stop(tenantID int64) error
	State(tenantID int64) model.TenantState
	RunningIDs() []int64
	StartBroadcast(tenantID int64, text string, onDone func(orchestrator.BroadcastReport, error)) error
	StartBroadcastAll(text string, onDone func(orchestrator.BroadcastReport, error)) error
}

// Ledger is the ledger surface exposed to operators
type Ledger interface {
	CountMembers(ctx context.Context, tenantID int64) (int, error)
	ListWithdrawRequests(ctx context.Context, filter model.WithdrawFilter) ([]*model.WithdrawRequest, error)
	MarkWithdrawPaid(ctx context.Context, requestID int64) (*model.WithdrawRequest, error)
	GetBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error)
}

// Handlers serves the admin API
type Handlers struct {
	tenants TenantDirectory
	runner  TenantRunner
	ledger  Ledger
	logger  *zap.Logger
}

// NewHandlers creates the admin API handlers
func NewHandlers(tenants TenantDirectory, runner TenantRunner, ledger Ledger, logger *zap.Logger) *Handlers {
	return &Handlers{tenants: tenants, runner: runner, ledger: ledger, logger: logger}
}

// TenantView is a tenant with its orchestrator state
type TenantView struct {
	*model.Tenant
	State model.TenantState `json:"state"`
}

// BroadcastRequest is the body of POST /v1/broadcasts
type BroadcastRequest struct {
	TenantID *int64 `json:"tenant_id,omitempty"`
	Text     string `json:"text"`
}

// BalanceResponse is the body of GET /v1/balances/{scope}/{key}
type BalanceResponse struct {
	Scope    model.Scope `json:"scope"`
	OwnerKey string      `json:"owner_key"`
	Amount   string      `json:"amount"`
}

// StatsResponse is the body of GET /v1/stats
type StatsResponse struct {
	Tenants        int `json:"tenants"`
	RunningTenants int `json:"running_tenants"`
	Members        int `json:"members"`
	PendingPayouts int `json:"pending_withdrawals"`
}

// ListTenants handles GET /v1/tenants
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.ListTenants(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]TenantView, 0, len(tenants))
	for _, t := range tenants {
		views = append(views, TenantView{Tenant: t, State: h.runner.State(t.ID)})
	}
	h.writeJSON(w, http.StatusOK, views)
}

// GetTenant handles GET /v1/tenants/{id}
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tenant, err := h.tenants.GetTenant(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TenantView{Tenant: tenant, State: h.runner.State(id)})
}

// StartTenant handles POST /v1/tenants/{id}/start
func (h *Handlers) StartTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.runner.Start(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Tenant started by operator",
		zap.Int64("tenant_id", id),
		zap.String("subject", middleware.GetSubject(r.Context())))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"tenant_id": id, "state": h.runner.State(id)})
}

// StopTenant handles POST /v1/tenants/{id}/stop
func (h *Handlers) StopTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.tenants.GetTenant(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.runner.Stop(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Tenant stopped by operator",
		zap.Int64("tenant_id", id),
		zap.String("subject", middleware.GetSubject(r.Context())))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"tenant_id": id, "state": h.runner.State(id)})
}

// Broadcast handles POST /v1/broadcasts. Delivery runs in the background and
// the report is logged.
func (h *Handlers) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Validation("invalid JSON body"))
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		h.writeError(w, r, apperrors.Validation("text is required"))
		return
	}

	requestID := middleware.GetRequestID(r.Context())
	onDone := func(report orchestrator.BroadcastReport, err error) {
		if err != nil {
			h.logger.Warn("Operator broadcast failed", zap.String("request_id", requestID), zap.Error(err))
			return
		}
		h.logger.Info("Operator broadcast finished",
			zap.String("request_id", requestID),
			zap.Int("attempted", report.Attempted),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", len(report.Failed)),
			zap.Bool("cancelled", report.Cancelled))
	}

	var err error
	if req.TenantID != nil {
		err = h.runner.StartBroadcast(*req.TenantID, req.Text, onDone)
	} else {
		err = h.runner.StartBroadcastAll(req.Text, onDone)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "request_id": requestID})
}

// GetBalance handles GET /v1/balances/{scope}/{key}
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := model.Scope(vars["scope"])
	key := vars["key"]
	amount, err := h.ledger.GetBalance(r.Context(), scope, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BalanceResponse{Scope: scope, OwnerKey: key, Amount: amount.StringFixed(2)})
}

// ListWithdrawals handles GET /v1/withdrawals
func (h *Handlers) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.WithdrawFilter{
		Status: model.WithdrawStatus(q.Get("status")),
		Kind:   model.WithdrawKind(q.Get("kind")),
	}
	switch filter.Status {
	case "", model.WithdrawStatusPending, model.WithdrawStatusPaid:
	default:
		h.writeError(w, r, apperrors.Validation("status must be pending or paid"))
		return
	}
	if raw := q.Get("tenant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, apperrors.Validation("tenant_id must be an integer"))
			return
		}
		filter.TenantID = &id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, apperrors.Validation("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	reqs, err := h.ledger.ListWithdrawRequests(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*model.WithdrawRequest{}
	}
	h.writeJSON(w, http.StatusOK, reqs)
}

// MarkWithdrawPaid handles POST /v1/withdrawals/{id}/paid
func (h *Handlers) MarkWithdrawPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req, err := h.ledger.MarkWithdrawPaid(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Withdraw request marked paid",
		zap.Int64("request_id", id),
		zap.String("subject", middleware.GetSubject(r.Context())))
	h.writeJSON(w, http.StatusOK, req)
}

// Stats handles GET /v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenants, err := h.tenants.ListTenants(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats := StatsResponse{Tenants: len(tenants), RunningTenants: len(h.runner.RunningIDs())}
	for _, t := range tenants {
		n, err := h.ledger.CountMembers(ctx, t.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		stats.Members += n
	}
	pending, err := h.ledger.ListWithdrawRequests(ctx, model.WithdrawFilter{Status: model.WithdrawStatusPending})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats.PendingPayouts = len(pending)
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, apperrors.Validation("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError maps coded errors to their HTTP status; anything else is a 500
// with a generic message
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := apperrors.ErrCodeInternal.String()
	message := "internal server error"

	var ce *apperrors.CodedError
	if errors.As(err, &ce) {
		status = ce.HTTPStatus()
		code = ce.Code.String()
		message = ce.Message
	}

	fields := []zap.Field{
		zap.Int("status_code", status),
		zap.String("error_code", code),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", fields...)
	} else {
		h.logger.Warn("HTTP error response", fields...)
	}
	middleware.WriteError(w, r, status, code, message)
}

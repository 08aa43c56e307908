package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// ReferralService is the application surface the HTTP layer depends on.
type ReferralService interface {
	OnPurchaseCompleted(ctx context.Context, ev domain.PurchaseEvent) (*domain.EngineResult, error)
	OnPurchaseRolledBack(ctx context.Context, sourceTransactionID, sourceModel, reason string) (int, error)
	OnUserRegistered(ctx context.Context, userID uuid.UUID) error
	Resync(ctx context.Context, userID uuid.UUID) (*domain.ReferralStats, error)
	Stats(ctx context.Context, userID uuid.UUID) (*domain.ReferralStats, *domain.User, error)
	Tree(ctx context.Context, userID uuid.UUID) (*domain.ReferralTree, error)
	ListCommissions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.CommissionRecord, error)
	UpdateRates(ctx context.Context, rates domain.CommissionRates) (*domain.CommissionRates, error)
}

type ReferralHandler struct {
	service      ReferralService
	linkTemplate string
	validate     *validator.Validate
	logger       *slog.Logger
}

func NewReferralHandler(service ReferralService, linkTemplate string, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{
		service:      service,
		linkTemplate: linkTemplate,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger.With("handler", "referral"),
	}
}

// RegisterRoutes registers all referral routes with the given router.
func (h *ReferralHandler) RegisterRoutes(r chi.Router) {
	r.Route("/referral", func(r chi.Router) {
		r.Post("/engine/purchase-completed", h.handlePurchaseCompleted)
		r.Post("/engine/purchase-rolled-back", h.handlePurchaseRolledBack)
		r.Post("/engine/user-registered", h.handleUserRegistered)
		r.Get("/stats/{userID}", h.handleGetStats)
		r.Post("/stats/{userID}/resync", h.handleResync)
		r.Get("/tree/{userID}", h.handleGetTree)
		r.Get("/commissions/{userID}", h.handleListCommissions)
		r.Put("/config/rates", h.handleUpdateRates)
	})
}

func (h *ReferralHandler) handlePurchaseCompleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req PurchaseCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, r, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.jsonError(w, r, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.OnPurchaseCompleted(ctx, domain.PurchaseEvent{
		PurchaserID:         req.PurchaserID,
		BaseAmount:          req.BaseAmount,
		PurchaseType:        domain.PurchaseType(req.PurchaseType),
		Currency:            domain.Currency(req.Currency),
		SourceTransactionID: req.SourceTransactionID,
		CoFounderShares:     req.CoFounderShares,
	})
	if err != nil {
		h.serviceError(w, r, logger, err, "Failed to process purchase")
		return
	}

	resp := PurchaseCompletedResponse{
		Status:             string(result.Status),
		CommissionsCreated: result.CommissionsCreated,
		FailureReason:      result.FailureReason,
	}
	for _, c := range result.Commissions {
		resp.Commissions = append(resp.Commissions, CreatedCommissionResponse{
			CommissionID: c.ID,
			Beneficiary:  c.Beneficiary,
			Generation:   c.Generation,
			Amount:       c.Amount,
			Currency:     string(c.Currency),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *ReferralHandler) handlePurchaseRolledBack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req PurchaseRolledBackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, r, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.jsonError(w, r, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	rolledBack, err := h.service.OnPurchaseRolledBack(ctx, req.SourceTransactionID, req.SourceTransactionModel, req.Reason)
	if err != nil {
		h.serviceError(w, r, logger, err, "Failed to roll back purchase")
		return
	}
	h.writeJSON(w, http.StatusOK, PurchaseRolledBackResponse{CommissionsRolledBack: rolledBack})
}

func (h *ReferralHandler) handleUserRegistered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req UserRegisteredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, r, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.jsonError(w, r, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.OnUserRegistered(ctx, req.UserID); err != nil {
		h.serviceError(w, r, logger, err, "Failed to process registration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReferralHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, ok := h.parseUserID(w, r, logger)
	if !ok {
		return
	}

	stats, user, err := h.service.Stats(ctx, userID)
	if err != nil {
		h.serviceError(w, r, logger, err, "Failed to retrieve referral stats")
		return
	}
	h.writeJSON(w, http.StatusOK, toStatsResponse(stats, user, h.referralLink(user.UserName)))
}

func (h *ReferralHandler) handleResync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, ok := h.parseUserID(w, r, logger)
	if !ok {
		return
	}

	stats, err := h.service.Resync(ctx, userID)
	if err != nil {
		h.serviceError(w, r, logger, err, "Failed to reconcile referral stats")
		return
	}

	// Resync does not require the user to exist in the directory, so the
	// stats body omits the code and link.
	h.writeJSON(w, http.StatusOK, StatsResponse{
		UserID:        stats.UserID,
		ReferredUsers: stats.ReferredUsers,
		TotalEarnings: stats.TotalEarnings,
		Generation1:   GenerationStatsResponse{Count: stats.Generation1.Count, Earnings: stats.Generation1.Earnings},
		Generation2:   GenerationStatsResponse{Count: stats.Generation2.Count, Earnings: stats.Generation2.Earnings},
		Generation3:   GenerationStatsResponse{Count: stats.Generation3.Count, Earnings: stats.Generation3.Earnings},
		UpdatedAt:     stats.UpdatedAt,
	})
}

func (h *ReferralHandler) handleGetTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, ok := h.parseUserID(w, r, logger)
	if !ok {
		return
	}

	tree, err := h.service.Tree(ctx, userID)
	if err != nil {
		h.serviceError(w, r, logger, err, "Failed to build referral tree")
		return
	}

	resp := TreeResponse{UserID: tree.UserID, UserName: tree.UserName}
	for _, level := range tree.Generations {
		nodes := make([]TreeNodeResponse, 0, len(level))
		for _, n := range level {
			nodes = append(nodes, TreeNodeResponse{UserID: n.UserID, UserName: n.UserName, JoinedAt: n.JoinedAt})
		}
		resp.Generations = append(resp.Generations, nodes)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *ReferralHandler) handleListCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, ok := h.parseUserID(w, r, logger)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	records, err := h.service.ListCommissions(ctx, userID, limit, offset)
	if err != nil {
		h.serviceError(w, r, logger, err, "Failed to list commissions")
		return
	}

	resp := CommissionListResponse{Commissions: make([]CommissionResponse, 0, len(records)), Limit: limit, Offset: offset}
	for _, rec := range records {
		resp.Commissions = append(resp.Commissions, toCommissionResponse(rec))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *ReferralHandler) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req RatesUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, r, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.jsonError(w, r, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	rates, err := h.service.UpdateRates(ctx, domain.CommissionRates{
		Generation1:    req.Generation1,
		Generation2:    req.Generation2,
		Generation3:    req.Generation3,
		CoFounderRatio: req.CoFounderRatio,
	})
	if err != nil {
		h.serviceError(w, r, logger, err, "Failed to update commission rates")
		return
	}
	h.writeJSON(w, http.StatusOK, RatesResponse{
		Generation1:    rates.Generation1,
		Generation2:    rates.Generation2,
		Generation3:    rates.Generation3,
		CoFounderRatio: rates.CoFounderRatio,
		UpdatedAt:      rates.UpdatedAt,
	})
}

func (h *ReferralHandler) parseUserID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "userID")
	userID, err := uuid.Parse(raw)
	if err != nil {
		h.jsonError(w, r, logger, "Invalid user ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return userID, true
}

func (h *ReferralHandler) referralLink(userName string) string {
	return fmt.Sprintf(h.linkTemplate, userName)
}

// serviceError maps application errors onto HTTP status codes.
func (h *ReferralHandler) serviceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		h.jsonError(w, r, logger, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrPurchaserNotFound):
		h.jsonError(w, r, logger, err.Error(), http.StatusNotFound)
	default:
		logger.ErrorContext(r.Context(), fallback, "error", err)
		h.jsonError(w, r, logger, fallback, http.StatusInternalServerError)
	}
}

func (h *ReferralHandler) jsonError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, message string, statusCode int) {
	logger.WarnContext(r.Context(), "API error response", "status_code", statusCode, "message", message)
	h.writeJSON(w, statusCode, GenericErrorResponse{Error: message})
}

func (h *ReferralHandler) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

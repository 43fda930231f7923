package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"CreatorDeals/internal/errs"
	"CreatorDeals/internal/events"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/payments"
	"CreatorDeals/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// PrincipalHeader carries the authenticated caller's id, set by the gateway
// in front of this service.
const PrincipalHeader = "X-User-Id"

type Handler struct {
	Deals    services.DealService
	Budget   services.BudgetLedger
	Settler  *payments.Settler
	Payouts  *payments.Gatekeeper
	Hub      *events.Hub
	Log      *slog.Logger
	validate *validator.Validate
}

func NewHandler(deals services.DealService, budget services.BudgetLedger, settler *payments.Settler, payouts *payments.Gatekeeper, hub *events.Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Deals:    deals,
		Budget:   budget,
		Settler:  settler,
		Payouts:  payouts,
		Hub:      hub,
		Log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type upsertCampaignRequest struct {
	TotalBudget json.Number `json:"total_budget" validate:"required"`
	Currency    string      `json:"currency" validate:"required,len=3,alpha"`
}

type createDealRequest struct {
	CampaignID string      `json:"campaign_id" validate:"required,max=128"`
	CreatorID  string      `json:"creator_id" validate:"required,max=128"`
	GrossValue json.Number `json:"gross_value" validate:"required"`
	Currency   string      `json:"currency" validate:"required,len=3,alpha"`
	Source     string      `json:"source" validate:"omitempty,oneof=direct campaign"`
}

type respondRequest struct {
	Decision string `json:"decision" validate:"required,oneof=accept decline"`
	Feedback string `json:"feedback" validate:"max=2000"`
}

type errorBody struct {
	Code     errs.Code         `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error   errorBody        `json:"error"`
	Payment *models.Payment `json:"payment,omitempty"`
}

func (h *Handler) UpsertCampaign(w http.ResponseWriter, r *http.Request) {
	var req upsertCampaignRequest
	if !h.decode(w, r, &req) {
		return
	}
	total, ok := parseAmount(w, "total_budget", req.TotalBudget)
	if !ok {
		return
	}
	campaign, err := h.Budget.SetCampaignBudget(r.Context(), principal(r), chi.URLParam(r, "campaignId"), total, req.Currency)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handler) GetCampaignBudget(w http.ResponseWriter, r *http.Request) {
	budget, err := h.Budget.BudgetFor(r.Context(), chi.URLParam(r, "campaignId"), principal(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (h *Handler) ListCampaignDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := h.Deals.ListCampaignDeals(r.Context(), chi.URLParam(r, "campaignId"), principal(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if deals == nil {
		deals = []*models.Deal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": deals})
}

func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if !h.decode(w, r, &req) {
		return
	}
	gross, ok := parseAmount(w, "gross_value", req.GrossValue)
	if !ok {
		return
	}
	deal, err := h.Deals.CreateDeal(r.Context(), services.CreateDealInput{
		CampaignID: req.CampaignID,
		CreatorID:  req.CreatorID,
		BrandID:    principal(r),
		GrossValue: gross,
		Currency:   req.Currency,
		Source:     models.DealSource(req.Source),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deal)
}

func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.Deals.GetDeal(r.Context(), chi.URLParam(r, "dealId"), principal(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (h *Handler) RespondDeal(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !h.decode(w, r, &req) {
		return
	}
	deal, err := h.Deals.Respond(r.Context(), chi.URLParam(r, "dealId"), principal(r), models.Decision(req.Decision), req.Feedback)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (h *Handler) CancelDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.Deals.Cancel(r.Context(), chi.URLParam(r, "dealId"), principal(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (h *Handler) SettleDeal(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Settler.SettleDealFor(r.Context(), chi.URLParam(r, "dealId"), principal(r))
	if err != nil {
		if errors.Is(err, payments.ErrTransferFailed) && payment != nil {
			h.writeErrWithPayment(w, r, err, payment)
			return
		}
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Settler.GetPayment(r.Context(), chi.URLParam(r, "dealId"), principal(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	link, err := h.Payouts.InitiateOnboarding(r.Context(), principal(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) GetPayoutAccount(w http.ResponseWriter, r *http.Request) {
	creatorID := principal(r)
	if creatorID == "" {
		h.writeErr(w, r, services.ErrMissingPrincipal)
		return
	}
	// Re-checks the processor while onboarding is still open.
	if _, err := h.Payouts.IsPayoutReady(r.Context(), creatorID); err != nil {
		h.writeErr(w, r, err)
		return
	}
	acct, err := h.Payouts.Account(r.Context(), creatorID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func principal(r *http.Request) string {
	return r.Header.Get(PrincipalHeader)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: errs.CodeInvalidInput, Message: "invalid json body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		body := errorBody{Code: errs.CodeInvalidInput, Message: "request validation failed"}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			body.Metadata = make(map[string]string, len(verrs))
			for _, fe := range verrs {
				body.Metadata[fe.Field()] = fe.Tag()
			}
		}
		writeError(w, http.StatusBadRequest, body)
		return false
	}
	return true
}

func parseAmount(w http.ResponseWriter, field string, n json.Number) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			Code:     errs.CodeInvalidAmount,
			Message:  "amount is not a decimal number",
			Metadata: map[string]string{"field": field},
		})
		return decimal.Zero, false
	}
	return d, true
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrWithPayment(w, r, err, nil)
}

func (h *Handler) writeErrWithPayment(w http.ResponseWriter, r *http.Request, err error, payment *models.Payment) {
	status := statusFor(err)
	body := errorBody{Code: errs.CodeInternal, Message: "internal error"}
	if e, ok := errs.As(err); ok {
		body = errorBody{Code: e.Code, Message: e.Message, Metadata: e.Metadata}
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", body.Code,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: body, Payment: payment})
}

func statusFor(err error) int {
	if errs.CodeOf(err) == errs.CodeBudgetExceeded {
		return http.StatusUnprocessableEntity
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindPrecondition:
		return http.StatusPreconditionFailed
	case errs.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorResponse{Error: body})
}

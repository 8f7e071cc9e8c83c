package coupon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coupon-engine/internal/common"
)

// Handler exposes coupon catalog and evaluation endpoints.
type Handler struct {
	Repo   Repository
	Engine *Engine
	Logger zerolog.Logger
}

// Routes builds the /api/v1 coupon router. admin guards catalog writes and
// usage administration; idem guards apply-coupon. Either may be nil.
func (h *Handler) Routes(admin, idem func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	guard := func(mw func(http.Handler) http.Handler) chi.Router {
		if mw == nil {
			return r.With()
		}
		return r.With(mw)
	}

	r.Get("/coupons", h.List)
	r.Get("/coupons/tags", h.ListByTags)
	r.Get("/coupons/code/{code}", h.GetByCode)
	r.Get("/coupons/{id}", h.Get)
	guard(admin).Post("/coupons", h.Create)
	guard(admin).Put("/coupons/{id}", h.Update)
	guard(admin).Delete("/coupons/{id}", h.Delete)

	r.Post("/applicable-coupons", h.Applicable)
	guard(idem).Post("/apply-coupon/{id}", h.Apply)
	guard(admin).Delete("/admin/master-usage/{cartID}", h.ResetUsage)
	return r
}

type couponPayload struct {
	Code           *string         `json:"code"`
	Type           *string         `json:"type"`
	Details        json.RawMessage `json:"details"`
	Tags           []string        `json:"tags"`
	ExpirationDate *time.Time      `json:"expiration_date"`
}

type cartRequest struct {
	Cart *Cart `json:"cart"`
}

// Create registers a new coupon.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload couponPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	var missing []FieldError
	if payload.Code == nil {
		missing = append(missing, FieldError{Field: "code", Message: "required"})
	}
	if payload.Type == nil {
		missing = append(missing, FieldError{Field: "type", Message: "required"})
	}
	if len(missing) > 0 {
		writeValidation(w, missing)
		return
	}
	c := Coupon{
		Code:      NormalizeCode(*payload.Code),
		Tags:      cleanTags(payload.Tags),
		ExpiresAt: payload.ExpirationDate,
	}
	if details := codeErrors(c.Code); len(details) > 0 {
		writeValidation(w, details)
		return
	}
	rule, details := decodeDetails(*payload.Type, payload.Details)
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}
	c.Rule = rule

	if err := h.Repo.Create(r.Context(), &c); err != nil {
		h.writeError(w, "create coupon", err)
		return
	}
	h.Logger.Info().Int64("coupon_id", c.ID).Str("code", c.Code).Str("type", string(c.Kind())).Msg("coupon created")
	common.JSON(w, http.StatusCreated, c)
}

// List returns every coupon ordered by id.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.Repo.List(r.Context())
	if err != nil {
		h.writeError(w, "list coupons", err)
		return
	}
	common.JSON(w, http.StatusOK, nonNil(coupons))
}

// ListByTags returns coupons carrying any of the comma separated tags.
func (h *Handler) ListByTags(w http.ResponseWriter, r *http.Request) {
	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		tags = cleanTags(strings.Split(raw, ","))
	}
	coupons, err := h.Repo.ListByTags(r.Context(), tags)
	if err != nil {
		h.writeError(w, "list coupons by tags", err)
		return
	}
	common.JSON(w, http.StatusOK, nonNil(coupons))
}

// Get returns one coupon by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	c, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "get coupon", err)
		return
	}
	common.JSON(w, http.StatusOK, c)
}

// GetByCode returns one coupon by its case-insensitive code.
func (h *Handler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "coupon code is required", nil)
		return
	}
	c, err := h.Repo.GetByCode(r.Context(), code)
	if err != nil {
		h.writeError(w, "get coupon by code", err)
		return
	}
	common.JSON(w, http.StatusOK, c)
}

// Update applies a partial update. A new type or new details are decoded
// together, falling back to the stored value for whichever is omitted.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	existing, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "get coupon", err)
		return
	}
	var payload couponPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	updated := existing
	if payload.Code != nil {
		updated.Code = NormalizeCode(*payload.Code)
		if details := codeErrors(updated.Code); len(details) > 0 {
			writeValidation(w, details)
			return
		}
	}
	if payload.Type != nil || len(payload.Details) > 0 {
		kind := string(existing.Kind())
		if payload.Type != nil {
			kind = *payload.Type
		}
		raw := payload.Details
		if len(raw) == 0 {
			if raw, err = json.Marshal(existing.Rule); err != nil {
				h.writeError(w, "encode stored rule", err)
				return
			}
		}
		rule, details := decodeDetails(kind, raw)
		if len(details) > 0 {
			writeValidation(w, details)
			return
		}
		updated.Rule = rule
	}
	if payload.Tags != nil {
		updated.Tags = cleanTags(payload.Tags)
	}
	if payload.ExpirationDate != nil {
		updated.ExpiresAt = payload.ExpirationDate
	}

	if err := h.Repo.Update(r.Context(), &updated); err != nil {
		h.writeError(w, "update coupon", err)
		return
	}
	common.JSON(w, http.StatusOK, updated)
}

// Delete removes a coupon.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	if err := h.Repo.Delete(r.Context(), id); err != nil {
		h.writeError(w, "delete coupon", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Applicable ranks every coupon that discounts the submitted cart.
func (h *Handler) Applicable(w http.ResponseWriter, r *http.Request) {
	cart, ok := decodeCart(w, r)
	if !ok {
		return
	}
	ranked, err := h.Engine.ListApplicable(r.Context(), cart)
	if err != nil {
		h.writeError(w, "list applicable coupons", err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"applicable_coupons": nonNil(ranked)})
}

// Apply prices the submitted cart with one coupon.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	cart, ok := decodeCart(w, r)
	if !ok {
		return
	}
	priced, err := h.Engine.Apply(r.Context(), id, cart)
	if err != nil {
		h.writeError(w, "apply coupon", err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"updated_cart": priced})
}

// ResetUsage clears master coupon usage recorded against a cart.
func (h *Handler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	cartID := strings.TrimSpace(chi.URLParam(r, "cartID"))
	if cartID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart id is required", nil)
		return
	}
	if err := h.Engine.ResetCart(r.Context(), cartID); err != nil {
		h.writeError(w, "reset master usage", err)
		return
	}
	subject, _ := common.Subject(r.Context())
	h.Logger.Info().Str("cart_id", cartID).Str("subject", subject).Msg("master usage reset")
	w.WriteHeader(http.StatusNoContent)
}

// HTTPError maps domain errors onto transport errors. It returns nil for
// errors that should surface as 500.
func HTTPError(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("NOT_FOUND", "coupon not found", http.StatusNotFound, err)
	case errors.Is(err, ErrExpired):
		return common.NewAppError("COUPON_EXPIRED", "coupon has expired", http.StatusBadRequest, err)
	case errors.Is(err, ErrMasterAlreadyUsed):
		return common.NewAppError("MASTER_ALREADY_USED", "master coupon has already been used for this cart", http.StatusConflict, err)
	case errors.Is(err, ErrCodeTaken):
		return common.NewAppError("CONFLICT", "coupon code already exists", http.StatusConflict, err)
	case errors.Is(err, ErrInvalidRuleParameters):
		return common.NewAppError("INVALID_RULE", "coupon rule parameters are invalid", http.StatusUnprocessableEntity, err).
			WithDetails(FieldErrors(err))
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	if appErr := HTTPError(err); appErr != nil {
		common.WriteAppError(w, appErr)
		return
	}
	h.Logger.Error().Err(err).Str("op", op).Msg("coupon request failed")
	common.WriteAppError(w, err)
}

func writeValidation(w http.ResponseWriter, details []FieldError) {
	common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "validation failed", details)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	return true
}

func decodeCart(w http.ResponseWriter, r *http.Request) (Cart, bool) {
	var req cartRequest
	if !decodeBody(w, r, &req) {
		return Cart{}, false
	}
	if req.Cart == nil {
		writeValidation(w, []FieldError{{Field: "cart", Message: "required"}})
		return Cart{}, false
	}
	if req.Cart.Items == nil {
		writeValidation(w, []FieldError{{Field: "cart.items", Message: "required"}})
		return Cart{}, false
	}
	if err := ValidateCart(*req.Cart); err != nil {
		writeValidation(w, prefixed("cart", FieldErrors(err)))
		return Cart{}, false
	}
	return *req.Cart, true
}

func couponID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid coupon id", nil)
		return 0, false
	}
	return id, true
}

func codeErrors(code string) []FieldError {
	if err := validate.Var(code, "required,min=3,max=50,couponcode"); err != nil {
		out := FieldErrors(err)
		for i := range out {
			out[i].Field = "code"
		}
		return out
	}
	return nil
}

func decodeDetails(rawKind string, raw json.RawMessage) (Rule, []FieldError) {
	kind, err := ParseKind(rawKind)
	if err != nil {
		return nil, []FieldError{{Field: "type", Message: "oneof=cart-wise product-wise bxgy master"}}
	}
	if kind != KindMaster && len(raw) == 0 {
		return nil, []FieldError{{Field: "details", Message: "required"}}
	}
	rule, err := DecodeRule(kind, raw)
	if err != nil {
		if details := FieldErrors(err); len(details) > 0 {
			return nil, prefixed("details", details)
		}
		return nil, []FieldError{{Field: "details", Message: strings.TrimPrefix(err.Error(), ErrInvalidRuleParameters.Error()+": ")}}
	}
	return rule, nil
}

func prefixed(prefix string, in []FieldError) []FieldError {
	for i := range in {
		in[i].Field = fmt.Sprintf("%s.%s", prefix, in[i].Field)
	}
	return in
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

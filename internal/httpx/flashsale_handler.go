package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-flash-sale/internal/checkout"
	"github.com/ariefcatur/go-flash-sale/internal/ledger"
	"github.com/ariefcatur/go-flash-sale/internal/users"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type FlashSaleHandler struct {
	Checkout *checkout.Service
	Ledger   *ledger.Repo
	Users    *users.Repo

	// Pingers per backend untuk /api/health (redis, postgres, ...).
	Pingers map[string]func(context.Context) error
}

type PurchaseReq struct {
	UserIdentifier string `json:"user_identifier"`
}

type ResetReq struct {
	NewTotal int `json:"new_total"`
}

func (h *FlashSaleHandler) Register(r *chi.Mux) {
	r.Route("/api/flash-sale", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/product", h.getProduct)
		r.Post("/purchase", h.attemptPurchase)
		r.Get("/purchase/{identifier}", h.checkPurchase)
		r.Post("/reset", h.reset)
	})
	r.Route("/api/users", func(r chi.Router) {
		r.Get("/", h.listUsers)
		r.Post("/seed", h.seedUsers)
		r.Delete("/reset", h.resetUsers)
	})
	r.Get("/api/health", h.health)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *FlashSaleHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Checkout.Status(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *FlashSaleHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	sale, err := h.Ledger.GetActiveSale(ctx)
	if errors.Is(err, ledger.ErrNoActiveSale) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active flash sale"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         sale.ID,
		"product":    sale.Product,
		"max_stock":  sale.TotalStock,
		"start_time": sale.StartTime,
		"end_time":   sale.EndTime,
	})
}

// attemptPurchase: rejection bisnis tetap 200 dengan success=false + reason
// stabil; ambiguous = 503, bentuknya beda supaya client tidak menampilkan
// "sold out" padahal state sebenarnya unknown.
func (h *FlashSaleHandler) attemptPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserIdentifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user_identifier"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Checkout.AttemptPurchase(ctx, req.UserIdentifier, middleware.GetReqID(r.Context()))
	if errors.Is(err, checkout.ErrUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"kind":  "ambiguous",
			"error": "outcome unknown, resubmit the request",
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *FlashSaleHandler) checkPurchase(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if identifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing identifier"})
		return
	}
	durable := r.URL.Query().Get("source") == "ledger"

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	chk, err := h.Checkout.CheckPurchase(ctx, identifier, durable)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chk)
}

func (h *FlashSaleHandler) reset(w http.ResponseWriter, r *http.Request) {
	var req ResetReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // body optional
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sale, err := h.Checkout.Reset(ctx, req.NewTotal)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "flash sale reset",
		"sale_id":   sale.ID,
		"new_total": sale.TotalStock,
	})
}

func (h *FlashSaleHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	views, err := h.Users.List(ctx, h.Checkout.SaleID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *FlashSaleHandler) seedUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := h.Users.SeedDemo(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "demo users created", "users_created": n})
}

func (h *FlashSaleHandler) resetUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.ResetAll(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "users reset"})
}

func (h *FlashSaleHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := map[string]any{}
	healthy := true
	for name, ping := range h.Pingers {
		if err := ping(ctx); err != nil {
			out[name] = false
			healthy = false
			continue
		}
		out[name] = true
	}
	out["status"] = "healthy"
	code := http.StatusOK
	if !healthy {
		out["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, out)
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"sitecart/internal/fault"
	"sitecart/internal/orders"
)

type refundRequest struct {
	AmountCents int64 `json:"amount"`
}

type reapRequest struct {
	TTLMinutes int `json:"ttlMinutes"`
	Limit      int `json:"limit"`
}

// handleOrders routes /v1/orders/{id} and its sub-resources.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	orderID, action, _ := strings.Cut(rest, "/")
	if orderID == "" {
		writeError(w, fault.New(fault.KindValidation, "missing order id"))
		return
	}

	id, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	switch action {
	case "":
		s.handleOrderGet(w, r, id, orderID)
	case "fulfill":
		s.handleOrderFulfill(w, r, id, orderID)
	case "refund":
		s.handleOrderRefund(w, r, id, orderID)
	case "status":
		s.handleOrderStatus(w, r, id, orderID)
	default:
		writeError(w, fault.New(fault.KindNotFound, "unknown order operation"))
	}
}

func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request, id Identity, orderID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	order, err := s.orders.Get(r.Context(), id.UserID, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "order": order})
}

func (s *Server) handleOrderFulfill(w http.ResponseWriter, r *http.Request, id Identity, orderID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allow(w, r, id.UserID, "order.mutate", s.limits.Mutation, s.limits.MutationWindow) {
		return
	}

	result, err := s.orders.Fulfill(r.Context(), id.UserID, orderID, idempotencyKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Reused {
		s.metrics.AddIdempotentReplay()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOrderRefund(w http.ResponseWriter, r *http.Request, id Identity, orderID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allow(w, r, id.UserID, "order.mutate", s.limits.Mutation, s.limits.MutationWindow) {
		return
	}

	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.orders.Refund(r.Context(), id.UserID, orderID, req.AmountCents, idempotencyKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Reused {
		s.metrics.AddIdempotentReplay()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request, id Identity, orderID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allow(w, r, id.UserID, "order.mutate", s.limits.Mutation, s.limits.MutationWindow) {
		return
	}

	var update orders.StatusUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.orders.UpdateStatus(r.Context(), id.UserID, orderID, update, idempotencyKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Reused {
		s.metrics.AddIdempotentReplay()
	}
	writeJSON(w, http.StatusOK, result)
}

// handleReap exposes the reservation reaper for ops runbooks and
// scheduled triggers; the background loop covers the normal case.
func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.internal.Check(r); err != nil {
		writeError(w, err)
		return
	}

	// The body is optional: an empty POST sweeps with the configured
	// TTL and batch size.
	var req reapRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.TTLMinutes < 0 || req.Limit < 0 {
		writeError(w, fault.New(fault.KindValidation, "ttlMinutes and limit must be non-negative"))
		return
	}

	result, err := s.reaper.SweepWith(r.Context(), time.Duration(req.TTLMinutes)*time.Minute, req.Limit)
	if err != nil {
		writeError(w, fault.Wrap(fault.KindUpstream, err, "reaper sweep failed"))
		return
	}
	s.metrics.AddSweep(result.Scanned, result.Expired)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

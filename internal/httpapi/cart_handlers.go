package httpapi

import (
	"net/http"
	"time"

	"sitecart/internal/cart"
	"sitecart/internal/fault"
)

func (s *Server) handleCartGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := s.carts.Snapshot(r.Context(), id.UserID, id.SiteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cart": snapshot})
}

func (s *Server) handleCartSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.allow(w, r, id.UserID, "cart.sync", s.limits.CartSync, s.limits.CartSyncWindow) {
		return
	}

	var req cart.SyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	// Identity comes from the session, not the body.
	req.UserID = id.UserID
	req.SiteID = id.SiteID

	merged, err := s.carts.Sync(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cart": merged})
}

func (s *Server) handleCartHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.carts.Heartbeat(r.Context(), id.UserID, id.SiteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "written": result.Written, "writtenAt": result.WrittenAt,
	})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if _, err := s.auth.Authenticate(r); err != nil {
		writeError(w, err)
		return
	}

	var req cart.EstimateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SubtotalCents < 0 {
		writeError(w, fault.New(fault.KindValidation, "subtotal must not be negative"))
		return
	}

	result := cart.Estimate(req, s.shipping, s.taxRate)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"shipping":     result.ShippingCents,
		"tax":          result.TaxCents,
		"taxBreakdown": result.Breakdown,
	})
}

// allow runs the fixed-window check and writes the 429 itself, so
// handlers read as a simple guard clause.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, subject, action string, limit int64, window time.Duration) bool {
	if s.limiter == nil {
		return true
	}
	decision, err := s.limiter.Check(r.Context(), subject, action, limit, window)
	if err == nil {
		return true
	}
	if fault.IsKind(err, fault.KindRateLimited) {
		s.metrics.AddRateLimitReject()
		writeRateLimited(w, decision.RetryAfter)
	} else {
		// Strict mode with the counter store down fails closed.
		writeError(w, err)
	}
	return false
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"sitecart/internal/fault"
	"sitecart/internal/idempotency"
)

// errorBody is the envelope every failed request gets.
type errorBody struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	body := errorBody{ErrorCode: string(kind), Message: publicMessage(err)}

	var fe *fault.Error
	if errors.Is(err, idempotency.ErrPending) {
		body.Message = "a request with this idempotency key is still in progress"
	} else if !errors.As(err, &fe) {
		body.Message = "internal error"
	}

	writeJSON(w, statusFor(kind), body)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		ErrorCode: string(fault.KindRateLimited),
		Message:   "rate limit exceeded, retry later",
	})
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindUnauthenticated:
		return http.StatusUnauthorized
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindConflict:
		return http.StatusConflict
	case fault.KindRateLimited:
		return http.StatusTooManyRequests
	case fault.KindInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// publicMessage strips wrapped internals: clients see the fault's own
// message, never the underlying store or gateway error text.
func publicMessage(err error) string {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.Msg
	}
	return "internal error"
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fault.Wrap(fault.KindValidation, err, "malformed request body")
	}
	if dec.More() {
		return fault.New(fault.KindValidation, "request body must contain a single JSON object")
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		ErrorCode: "METHOD_NOT_ALLOWED",
		Message:   fmt.Sprintf("method not allowed, use %s", allowed),
	})
}

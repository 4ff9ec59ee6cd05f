package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sitecart/internal/cart"
	"sitecart/internal/observability"
	"sitecart/internal/orders"
	"sitecart/internal/ratelimit"
	"sitecart/internal/realtime"
)

// RateLimits carries the per-action fixed-window budgets. A zero limit
// disables limiting for that action.
type RateLimits struct {
	CartSync       int64
	CartSyncWindow time.Duration
	Mutation       int64
	MutationWindow time.Duration
}

// DefaultRateLimits returns the platform defaults.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		CartSync:       60,
		CartSyncWindow: time.Minute,
		Mutation:       30,
		MutationWindow: time.Minute,
	}
}

// Server exposes the commerce engine over HTTP.
type Server struct {
	carts    *cart.Service
	orders   *orders.Service
	reaper   *orders.Reaper
	limiter  *ratelimit.Limiter
	limits   RateLimits
	metrics  *observability.Metrics
	hub      *realtime.Hub
	auth     Authenticator
	internal StaticTokenGuard
	taxRate  cart.TaxRateFunc
	shipping cart.ShippingRates
	upgrader websocket.Upgrader
	log      zerolog.Logger
	healthy  func() map[string]string
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimits overrides the default budgets.
func WithRateLimits(limits RateLimits) Option {
	return func(s *Server) { s.limits = limits }
}

// WithAuthenticator overrides the default header authenticator.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithInternalToken protects the internal endpoints.
func WithInternalToken(token string) Option {
	return func(s *Server) { s.internal = StaticTokenGuard{Token: token} }
}

// WithTaxRates overrides the tax-rate lookup used by estimates.
func WithTaxRates(fn cart.TaxRateFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.taxRate = fn
		}
	}
}

// WithShippingRates overrides the shipping rate table.
func WithShippingRates(rates cart.ShippingRates) Option {
	return func(s *Server) { s.shipping = rates }
}

// WithHub enables the websocket event feed.
func WithHub(hub *realtime.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithHealth adds component statuses to the health endpoint.
func WithHealth(fn func() map[string]string) Option {
	return func(s *Server) { s.healthy = fn }
}

// NewServer constructs the HTTP surface over the cart and order
// services.
func NewServer(carts *cart.Service, orderSvc *orders.Service, reaper *orders.Reaper,
	limiter *ratelimit.Limiter, metrics *observability.Metrics, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		carts:    carts,
		orders:   orderSvc,
		reaper:   reaper,
		limiter:  limiter,
		limits:   DefaultRateLimits(),
		metrics:  metrics,
		auth:     HeaderAuthenticator{},
		taxRate:  func(string, string) float64 { return 0 },
		shipping: cart.DefaultShippingRates(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.Handler(s.metrics))

	mux.HandleFunc("/v1/cart", s.instrument("cart.get", s.handleCartGet))
	mux.HandleFunc("/v1/cart/sync", s.instrument("cart.sync", s.handleCartSync))
	mux.HandleFunc("/v1/cart/heartbeat", s.instrument("cart.heartbeat", s.handleCartHeartbeat))
	mux.HandleFunc("/v1/cart/estimate", s.instrument("cart.estimate", s.handleEstimate))

	mux.HandleFunc("/v1/orders/", s.instrument("orders", s.handleOrders))

	mux.HandleFunc("/v1/internal/reservations/reap", s.instrument("reaper.reap", s.handleReap))

	if s.hub != nil {
		mux.HandleFunc("/v1/events/ws", s.handleEventsWS)
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	body := map[string]any{"status": "healthy", "service": "sitecart"}
	if s.healthy != nil {
		body["components"] = s.healthy()
	}
	writeJSON(w, http.StatusOK, body)
}

// instrument wraps a handler with the per-method metrics span.
func (s *Server) instrument(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		span := s.metrics.Start(method)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		span.End(errFromStatus(rec.status))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func errFromStatus(status int) error {
	if status >= 500 {
		return errServerStatus
	}
	return nil
}

var errServerStatus = &statusError{}

type statusError struct{}

func (*statusError) Error() string { return "server error status" }

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r); err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.Register <- conn

	// Drain control frames; unregister when the client goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unregister <- conn
				return
			}
		}
	}()
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in the request log
  2. RealIP:     Client address from X-Forwarded-For behind the bar's proxy
  3. Logger:     One zerolog line per request, level by status
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests from the till front end

  Under /api two more run per route:
  6. identify:   Resolves the X-Operator header to an account
  7. requireCap: Checks the operator's role holds the route's capability

ROUTE GROUPS:
  /healthz              Liveness and store ping
  /metrics              Prometheus scrape endpoint
  /api/users/*          Accounts, top-ups, purchases        (Bartender, Admin)
  /api/transactions/*   Transaction log and reverts         (Bartender)
  /api/items/*          Menu and stock                      (Bartender)
  /api/settings/*       Global settings                     (Admin)
  /api/stats/*          Dashboard figures                   (Observer)

SECURITY NOTE:
  The operator header is trusted as-is. Authentication belongs to the
  proxy in front of this server.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/foyer/barledger/ledger"
	"github.com/foyer/barledger/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// OperatorHeader carries the username of the person at the till.
const OperatorHeader = "X-Operator"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", OperatorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	serve := requireCap(ledger.CapServe, h)
	admin := requireCap(ledger.CapAdminister, h)
	reports := requireCap(ledger.CapViewReports, h)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.identify)

		r.Route("/users", func(r chi.Router) {
			r.With(serve).Get("/", h.ListUsers)
			r.With(admin).Post("/", h.CreateUser)
			r.Get("/{username}", h.GetUser)
			r.With(admin).Put("/{username}", h.UpdateUser)
			r.With(admin).Delete("/{username}", h.DeleteUser)
			r.With(serve).Post("/{username}/deposit", h.SetDeposit)
			r.With(serve).Post("/{username}/top-up", h.TopUp)
			r.With(serve).Post("/{username}/pay", h.Pay)
			r.With(serve).Get("/{username}/can-buy", h.CanBuy)
			r.Get("/{username}/transactions", h.ListUserTransactions)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Use(serve)
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/revert", h.RevertTransaction)
		})

		r.Route("/items", func(r chi.Router) {
			r.Use(serve)
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/quick-access", h.GetQuickAccessItem)
			r.Get("/{name}", h.GetItem)
			r.Put("/{name}", h.UpdateItem)
			r.Delete("/{name}", h.DeleteItem)
			r.Post("/{name}/quick-access", h.SetQuickAccessItem)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Use(admin)
			r.Get("/", h.ListSettings)
			r.Put("/{key}", h.UpdateSetting)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Use(reports)
			r.Get("/daily", h.DailyStats)
			r.Get("/monthly", h.MonthlyStats)
			r.Get("/yearly", h.YearlyStats)
		})
	})

	return r
}

// =============================================================================
// OPERATOR IDENTITY
// =============================================================================

type operatorKey struct{}

// identify resolves the X-Operator header to an account and stores it in
// the request context.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(OperatorHeader))
		if username == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+OperatorHeader+" header", nil)
			return
		}
		op, err := h.Accounts.GetUser(r.Context(), username)
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "Unknown operator", nil)
			return
		}
		if err != nil {
			writeLedgerError(w, h.Logger, err)
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey{}, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operator returns the account resolved by identify.
func operator(r *http.Request) *ledger.User {
	op, _ := r.Context().Value(operatorKey{}).(*ledger.User)
	return op
}

// requireCap rejects the request unless the operator's role holds c.
func requireCap(c ledger.Capability, h *Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := operator(r).Role.Require(c); err != nil {
				writeLedgerError(w, h.Logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// selfOrServe lets customers read their own account while bartenders read
// any account.
func selfOrServe(op *ledger.User, username string) error {
	if op.Username == username {
		return nil
	}
	return op.Role.Require(ledger.CapServe)
}

// pathParam returns a decoded URL parameter. Item names may contain spaces.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

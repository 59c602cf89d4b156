package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tokenbridge/settlement-api/internal/app"
	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/domain/proof"
	"github.com/tokenbridge/settlement-api/internal/domain/realtime"
	"github.com/tokenbridge/settlement-api/internal/middleware"
	"github.com/tokenbridge/settlement-api/internal/pkg/jwt"
	"github.com/tokenbridge/settlement-api/internal/pkg/rates"
	pkgresponse "github.com/tokenbridge/settlement-api/internal/pkg/response"
)

type handlers struct {
	Wallets  *ledger.Handler
	Agents   *agent.Handler
	Mints    *mint.Handler
	Burns    *burn.Handler
	Escrows  *escrow.Handler
	Disputes *dispute.Handler
	Chain    *chain.Handler
	Proofs   *proof.Handler
	Rates    *rates.Handler
	Realtime *realtime.Handler
}

type routerDeps struct {
	JWT            *jwt.Service
	AllowedOrigins []string
	Handlers       handlers
	// UploadDir is served under /uploads when proofs are kept on local disk.
	UploadDir string
	Ready     func(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	h := d.Handlers
	authMiddleware := middleware.Auth(d.JWT)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(d.AllowedOrigins))

	// WebSocket authenticates with ?token= since browsers cannot set headers.
	r.Get("/ws", h.Realtime.ServeWS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": app.Version,
		})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				pkgresponse.Error(w, http.StatusServiceUnavailable, "NOT_READY", "Dependencies unavailable")
				return
			}
		}
		pkgresponse.OK(w, map[string]string{"status": "ready"})
	})

	if d.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.UploadDir))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Get("/rates", h.Rates.Get)

		r.Mount("/wallets", h.Wallets.Routes(authMiddleware))
		r.Mount("/agents", h.Agents.Routes(authMiddleware))
		r.Mount("/mint-requests", h.Mints.Routes(authMiddleware))
		r.Mount("/burn-requests", h.Burns.Routes(authMiddleware))
		r.Mount("/escrows", h.Escrows.Routes(authMiddleware))
		r.Mount("/disputes", h.Disputes.Routes(authMiddleware))

		r.Route("/proofs", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/", h.Proofs.Upload)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Mount("/wallets", h.Wallets.AdminRoutes())
			r.Mount("/agents", h.Agents.AdminRoutes())
			r.Mount("/escrows", h.Escrows.AdminRoutes())
			r.Mount("/chain-settlements", h.Chain.AdminRoutes())
		})
	})

	return r
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/terraconstructs/gridauth/internal/config"
	gridmiddleware "github.com/terraconstructs/gridauth/internal/middleware"
	"github.com/terraconstructs/gridauth/internal/telemetry"
)

// RouterOptions controls the construction of the HTTP router.
type RouterOptions struct {
	AuthnDeps     gridmiddleware.AuthnDependencies
	Cfg           *config.Config
	Metrics       *telemetry.ServerMetrics
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, the
// authentication dispatcher and the application pages.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))
	r.Use(gridmiddleware.NewMetricsMiddleware(opts.Metrics))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	// Health checks bypass authentication.
	r.Get("/health", healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(gridmiddleware.NewAuthnMiddleware(opts.AuthnDeps))

		r.Get("/", HandleHome)
		r.Get("/login", HandleLoginSuccess)
		r.Get("/logout", HandleLogout(opts.AuthnDeps.Dispatcher))
		r.Post("/logout", HandleLogout(opts.AuthnDeps.Dispatcher))
		r.Get("/admin", HandleAdmin)
		r.Get("/error", HandleError)

		loginPage, checkPath := "/signin", "/j_security_check"
		userParam, passParam := "j_username", "j_password"
		if opts.Cfg != nil {
			loginPage, checkPath = opts.Cfg.Form.LoginPage, opts.Cfg.Form.CheckPath
			userParam, passParam = opts.Cfg.Form.UsernameParam, opts.Cfg.Form.PasswordParam
		}
		r.Get(loginPage, HandleSignInForm(checkPath, userParam, passParam))

		r.With(gridmiddleware.RequireAuthentication).Get("/api/auth/whoami", HandleWhoAmI)

		// Paths such as the form check path and the OpenID redirect path are
		// answered by the dispatcher; anything that reaches here is a 404.
		r.NotFound(http.NotFound)
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		})

		if opts.ExtraRoutes != nil {
			opts.ExtraRoutes(r)
		}
	})

	return r
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over
// cleartext.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}

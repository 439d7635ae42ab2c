package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/config"
	"github.com/susu3304/monkibaat/internal/story"
	"golang.org/x/oauth2"
)

type API struct {
	router      *mux.Router
	stories     *story.Service
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	server      *http.Server
}

func New(cfg *config.Config, stories *story.Service) *API {
	api := &API{
		router:    mux.NewRouter(),
		stories:   stories,
		config:    cfg,
		jwtSecret: []byte(cfg.JWTSecret),
	}
	if cfg.OAuthEnabled() {
		api.oauthConfig = &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		}
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.Use(logRequests)

	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Public endpoints
	a.router.HandleFunc("/api/story", a.handleCurrentStory).Methods("GET")
	a.router.HandleFunc("/api/stories", a.handleListStories).Methods("GET")
	a.router.HandleFunc("/api/stories/{story_id}", a.handleGetStory).Methods("GET")
	a.router.HandleFunc("/api/stories/{story_id}/settlement", a.handleGetSettlement).Methods("GET")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/stories", a.handleCreateStory).Methods("POST")
	protected.HandleFunc("/stories/{story_id}/lines", a.handleAddLine).Methods("POST")
	protected.HandleFunc("/stories/{story_id}/donations", a.handleDonate).Methods("POST")
}

// Handler returns the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// When AllowedOrigins is "*", AllowCredentials must be false
	wildcard := false
	for _, o := range a.config.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
	}
	corsOptions := cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: !wildcard,
	}
	return cors.New(corsOptions).Handler(a.router)
}

func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("API server listening on http://%s", a.config.WebBind)
	err := a.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

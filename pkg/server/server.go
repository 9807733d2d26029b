package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/integration"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// entryManager is implemented by *integration.Manager.
type entryManager interface {
	Entries() []types.Entry
	RemoveEntry(ctx context.Context, entryID string) error
	Sensors() []types.SensorSnapshot
	Sensor(uniqueID string) (types.SensorSnapshot, bool)
	UpdateEnergy(ctx context.Context, entryID string) error
	SetUnit(ctx context.Context, entryID, unit string) error
}

// configFlow is implemented by *integration.ConfigFlow.
type configFlow interface {
	Step(ctx context.Context, input *integration.FlowInput) integration.FlowResult
}

// Server exposes the config flow, the entries, the sensors and the services
// over HTTP.
type Server struct {
	manager entryManager
	flow    configFlow

	listenAddr string
	httpServer *http.Server

	adminEmails []string
	verifier    tokenVerifier
	serverName  string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(m *integration.Manager) *Server {
	srv := &Server{
		manager:    m,
		flow:       integration.NewConfigFlow(m),
		serverName: "elforbrug",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to change entries and call services")
	oidcAudience := lflag.String("oidc-audience", "", "audience (client ID) of the ID tokens to accept, empty disables authentication")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "issuer of the ID tokens to accept")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifier = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
			if len(srv.adminEmails) == 0 {
				log.Ctx(context.Background()).Error("admin-emails is required when oidc-audience is set")
				os.Exit(1)
			}
		} else {
			log.Ctx(context.Background()).Warn("oidc-audience not set, API is unauthenticated")
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/config_flow", s.handleGetConfigFlow)
	apiMux.HandleFunc("POST /api/config_flow", s.handleConfigFlow)
	apiMux.HandleFunc("GET /api/entries", s.handleListEntries)
	apiMux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	apiMux.HandleFunc("GET /api/sensors", s.handleListSensors)
	apiMux.HandleFunc("GET /api/sensors/{uniqueID}", s.handleGetSensor)
	apiMux.HandleFunc("POST /api/services/update_energy", s.handleUpdateEnergy)
	apiMux.HandleFunc("POST /api/services/set_unit", s.handleSetUnit)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

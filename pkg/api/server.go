package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowctl/burrow/pkg/config"
	"github.com/burrowctl/burrow/pkg/deploy"
	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/log"
	"github.com/burrowctl/burrow/pkg/manager"
	"github.com/burrowctl/burrow/pkg/metrics"
	"github.com/burrowctl/burrow/pkg/security"
	"github.com/burrowctl/burrow/pkg/types"
)

// Server is the leader's control plane HTTP surface. Script, register
// and heartbeat endpoints authenticate by token or worker secret;
// everything else requires the operator bearer token.
type Server struct {
	cfg     *config.Leader
	manager *manager.Manager
	engine  *deploy.Engine
	blobs   *security.BlobStore
	httpd   *http.Server
	logger  zerolog.Logger
}

// NewServer builds the leader API server bound to addr.
func NewServer(cfg *config.Leader, mgr *manager.Manager, engine *deploy.Engine, blobs *security.BlobStore, addr string) *Server {
	s := &Server{
		cfg:     cfg,
		manager: mgr,
		engine:  engine,
		blobs:   blobs,
		logger:  log.WithComponent("api"),
	}
	s.httpd = &http.Server{
		Addr:         addr,
		Handler:      s.instrument(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	// Onboarding scripts, gated by the token in the URL.
	mux.HandleFunc("GET /join/{token}", s.script(manager.ScriptJoin, manager.ShellPosix))
	mux.HandleFunc("GET /join/{token}/ps1", s.script(manager.ScriptJoin, manager.ShellPowershell))
	mux.HandleFunc("GET /bootstrap/{token}", s.script(manager.ScriptBootstrap, manager.ShellPosix))
	mux.HandleFunc("GET /bootstrap/{token}/ps1", s.script(manager.ScriptBootstrap, manager.ShellPowershell))

	// Worker-facing endpoints.
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)

	// Operator endpoints.
	mux.Handle("POST /tokens", s.operator(s.handleCreateToken))
	mux.Handle("GET /tokens", s.operator(s.handleListTokens))
	mux.Handle("DELETE /tokens/{token}", s.operator(s.handleRevokeToken))

	mux.Handle("GET /workers", s.operator(s.handleListWorkers))
	mux.Handle("GET /workers/{hostname}", s.operator(s.handleGetWorker))
	mux.Handle("DELETE /workers/{hostname}", s.operator(s.handleRemoveWorker))
	mux.Handle("POST /workers/{hostname}/release", s.operator(s.handleReleaseWorker))
	mux.Handle("POST /workers/{hostname}/upgrade", s.operator(s.handleUpgradeWorker))
	mux.Handle("POST /upgrade-all", s.operator(s.handleUpgradeAll))

	mux.Handle("GET /discover/peers", s.operator(s.handleDiscoverPeers))
	mux.Handle("POST /claim", s.operator(s.handleClaim))

	mux.Handle("POST /services", s.operator(s.handleCreateService))
	mux.Handle("GET /services", s.operator(s.handleListServices))
	mux.Handle("GET /services/{id}", s.operator(s.handleGetService))
	mux.Handle("PUT /services/{id}", s.operator(s.handleUpdateService))
	mux.Handle("DELETE /services/{id}", s.operator(s.handleDeleteService))

	mux.Handle("POST /deployments", s.operator(s.handleCreateDeployment))
	mux.Handle("GET /deployments", s.operator(s.handleListDeployments))
	mux.Handle("GET /deployments/{id}", s.operator(s.handleGetDeployment))
	mux.Handle("POST /deployments/{id}/stop", s.operator(s.handleStopDeployment))
	mux.Handle("POST /deployments/{id}/restart", s.operator(s.handleRestartDeployment))
	mux.Handle("POST /deployments/{id}/remove", s.operator(s.handleRemoveDeployment))
	mux.Handle("GET /deployments/{id}/logs", s.operator(s.handleDeploymentLogs))

	mux.Handle("PUT /credentials/{id}", s.operator(s.handlePutCredential))
	mux.Handle("GET /credentials", s.operator(s.handleListCredentials))
	mux.Handle("GET /credentials/{id}", s.operator(s.handleGetCredential))
	mux.Handle("DELETE /credentials/{id}", s.operator(s.handleDeleteCredential))

	return mux
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpd.Addr).Msg("Leader API listening")
		errCh <- s.httpd.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpd.Shutdown(shutdownCtx)
	}
}

// operator gates a handler on the operator bearer token.
func (s *Server) operator(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.OperatorToken)) != 1 {
			writeError(w, errdefs.Unauthorized("operator token required"))
			return
		}
		next(w, r)
	})
}

// instrument counts and times every request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errdefs.HTTPStatus(err), &types.ErrorResponse{
		Error: err.Error(),
		Kind:  errdefs.KindString(err),
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errdefs.Invalid("invalid request body: %v", err)
	}
	return nil
}

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/log"
	"github.com/burrowctl/burrow/pkg/types"
)

// Server is the agent's HTTP control surface. Only /health and /info
// answer without the node secret; /claim has its own rule (an unbound
// agent accepts its first claim).
type Server struct {
	agent  *WorkerAgent
	httpd  *http.Server
	logger zerolog.Logger
}

// NewServer builds the agent API server bound to addr.
func NewServer(agent *WorkerAgent, addr string) *Server {
	s := &Server{
		agent:  agent,
		logger: log.WithComponent("agent-api"),
	}
	s.httpd = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST /claim", s.handleClaim)

	mux.Handle("POST /deploy", s.authed(s.handleDeploy))
	mux.Handle("POST /stop", s.authed(s.handleStop))
	mux.Handle("POST /restart", s.authed(s.handleRestart))
	mux.Handle("POST /remove", s.authed(s.handleRemove))
	mux.Handle("POST /upgrade", s.authed(s.handleUpgrade))
	mux.Handle("POST /release", s.authed(s.handleRelease))
	mux.Handle("GET /status/{name}", s.authed(s.handleStatus))
	mux.Handle("GET /logs/{name}", s.authed(s.handleLogs))
	mux.Handle("GET /containers", s.authed(s.handleContainers))

	return mux
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpd.Addr).Msg("Agent API listening")
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

// authed rejects requests whose X-Node-Secret does not match the bound
// secret. An unbound agent has no secret and refuses everything here.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.agent.VerifySecret(r.Header.Get(client.SecretHeader)) {
			writeError(w, errdefs.Unauthorized("invalid or missing node secret"))
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &types.AgentHealth{
		Status:          "ok",
		Hostname:        s.agent.cfg.Hostname,
		AgentVersion:    Version,
		DockerAvailable: s.agent.runtime.Available(r.Context()),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &types.AgentInfo{
		Hostname:   s.agent.cfg.Hostname,
		VPNAddress: s.agent.cfg.VPNAddress,
		LeaderURL:  s.agent.LeaderURL(),
		Bound:      s.agent.Bound(),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	// A bound agent only re-binds for a caller holding the current
	// secret. An unbound agent belongs to whoever claims it first.
	if s.agent.Bound() && !s.agent.VerifySecret(r.Header.Get(client.SecretHeader)) {
		writeError(w, errdefs.Unauthorized("agent already bound to %s", s.agent.LeaderURL()))
		return
	}

	var req types.AgentClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.agent.Claim(&req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"claimed": true})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req types.DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ContainerName == "" || req.Image == "" {
		writeError(w, errdefs.Invalid("container_name and image are required"))
		return
	}

	containerID, err := s.agent.runtime.Deploy(r.Context(), &req)
	if err != nil {
		s.logger.Error().Err(err).Str("container", req.ContainerName).Msg("Deploy failed")
		writeJSON(w, errdefs.HTTPStatus(err), &types.DeployResult{
			Success:       false,
			ContainerName: req.ContainerName,
			Error:         err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, &types.DeployResult{
		Success:       true,
		ContainerID:   containerID,
		ContainerName: req.ContainerName,
		Status:        "running",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.containerOp(w, r, func(ctx context.Context, req *types.ContainerOpRequest) error {
		return s.agent.runtime.Stop(ctx, req.ContainerName, req.TimeoutSec)
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.containerOp(w, r, func(ctx context.Context, req *types.ContainerOpRequest) error {
		return s.agent.runtime.Restart(ctx, req.ContainerName, req.TimeoutSec)
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.containerOp(w, r, func(ctx context.Context, req *types.ContainerOpRequest) error {
		return s.agent.runtime.Remove(ctx, req.ContainerName)
	})
}

func (s *Server) containerOp(w http.ResponseWriter, r *http.Request, op func(context.Context, *types.ContainerOpRequest) error) {
	var req types.ContainerOpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ContainerName == "" {
		writeError(w, errdefs.Invalid("container_name is required"))
		return
	}
	if err := op(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.ContainerOpResult{Success: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.agent.runtime.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if q := r.URL.Query().Get("tail"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, errdefs.Invalid("invalid tail %q", q))
			return
		}
		tail = n
	}

	logs, err := s.agent.runtime.Logs(r.Context(), r.PathValue("name"), tail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	infos, err := s.agent.runtime.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Release(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req types.UpgradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Image == "" {
		writeError(w, errdefs.Invalid("image is required"))
		return
	}

	// Acknowledge before acting: the upgrade replaces this process, so
	// the caller would never see a response sent afterwards.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "upgrading", "image": req.Image})
	go s.agent.selfUpgrade(req.Image)
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


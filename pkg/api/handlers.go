package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/manager"
	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/types"
)

// script serves an onboarding script for a still-valid token.
func (s *Server) script(kind manager.ScriptKind, shell manager.ScriptShell) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		if err := s.manager.ValidateToken(token); err != nil {
			writeError(w, err)
			return
		}
		body, err := s.manager.RenderScript(kind, shell, token)
		if err != nil {
			writeError(w, errdefs.Internal("render script: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.manager.Register(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var payload types.HeartbeatPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	known, err := s.manager.ProcessHeartbeat(&payload)
	if err != nil {
		writeError(w, err)
		return
	}
	// registered=false tells an unknown worker to re-register.
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true, "registered": known})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req types.CreateTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.manager.CreateJoinToken("operator", &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.manager.ListTokens()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RevokeToken(r.PathValue("token")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	filter := storage.WorkerFilter{
		Status: types.NodeStatus(r.URL.Query().Get("status")),
		Role:   types.NodeRole(r.URL.Query().Get("role")),
	}
	workers, err := s.manager.ListWorkers(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.manager.GetWorker(r.PathValue("hostname"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RemoveWorker(r.PathValue("hostname")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleReleaseWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ReleaseWorker(r.Context(), r.PathValue("hostname")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (s *Server) handleUpgradeWorker(w http.ResponseWriter, r *http.Request) {
	var req types.UpgradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Image == "" {
		writeError(w, errdefs.Invalid("image is required"))
		return
	}
	if err := s.manager.UpgradeWorker(r.Context(), r.PathValue("hostname"), req.Image); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "upgrading", "image": req.Image})
}

func (s *Server) handleUpgradeAll(w http.ResponseWriter, r *http.Request) {
	var req types.UpgradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.manager.UpgradeAll(r.Context(), req.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiscoverPeers(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.DiscoverPeers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req types.ClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.manager.Claim(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var svc types.ServiceDefinition
	if err := decodeJSON(r, &svc); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.engine.CreateService(&svc, "operator")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.engine.ListServices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.engine.GetService(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var svc types.ServiceDefinition
	if err := decodeJSON(r, &svc); err != nil {
		writeError(w, err)
		return
	}
	svc.ServiceID = r.PathValue("id")
	updated, err := s.engine.UpdateService(&svc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteService(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req types.CreateDeploymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ServiceID == "" || req.WorkerHostname == "" {
		writeError(w, errdefs.Invalid("service_id and worker_hostname are required"))
		return
	}
	d, err := s.engine.Deploy(r.Context(), req.ServiceID, req.WorkerHostname)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	var (
		deployments []*types.Deployment
		err         error
	)
	if hostname := r.URL.Query().Get("worker"); hostname != "" {
		deployments, err = s.engine.ListByWorker(hostname)
	} else {
		deployments, err = s.engine.List()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleStopDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRestartDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Restart(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRemoveDeployment(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if q := r.URL.Query().Get("tail"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, errdefs.Invalid("invalid tail %q", q))
			return
		}
		tail = n
	}

	logs, err := s.engine.Logs(r.Context(), r.PathValue("id"), tail)
	if err != nil {
		writeError(w, err)
		return
	}
	// logs is nil when the agent was unreachable.
	writeJSON(w, http.StatusOK, map[string]*string{"logs": logs})
}

// Credential blobs: opaque cluster access files stored encrypted on the
// leader's disk. The body is the raw file content.

const maxCredentialSize = 1 << 20

func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCredentialSize+1))
	if err != nil {
		writeError(w, errdefs.Invalid("read credential body: %v", err))
		return
	}
	if len(body) == 0 {
		writeError(w, errdefs.Invalid("credential body is empty"))
		return
	}
	if len(body) > maxCredentialSize {
		writeError(w, errdefs.Invalid("credential exceeds %d bytes", maxCredentialSize))
		return
	}
	if err := s.blobs.Put(r.PathValue("id"), body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stored": true})
}

func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	plaintext, err := s.blobs.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(plaintext)
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	ids, err := s.blobs.List()
	if err != nil {
		writeError(w, errdefs.Internal("list credentials: %v", err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"credentials": ids})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.blobs.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

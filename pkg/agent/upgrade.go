package agent

import (
	"context"
	"os"
	"time"

	"github.com/burrowctl/burrow/pkg/types"
)

// agentContainerName is the name the bootstrap script gives the agent's
// own container. Self-upgrade recreates it under the same name.
const agentContainerName = "burrow-agent"

// selfUpgrade replaces the agent's own container with a new image. The
// HTTP layer has already answered 202; from here on the only observers
// are the logs and the leader's next probe of /health.
//
// The sequence pulls the new image first so a bad reference fails
// before anything is torn down. Deploy replaces the running container,
// which kills this process; the runtime's restart policy brings the new
// one up.
func (a *WorkerAgent) selfUpgrade(image string) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	logger := a.logger.With().Str("image", image).Logger()
	logger.Info().Msg("Self-upgrade starting")

	if err := a.runtime.EnsureImage(ctx, image); err != nil {
		logger.Error().Err(err).Msg("Self-upgrade aborted, image pull failed")
		return
	}

	// Carry the current container's env and mounts into the new one so
	// the binding and data dir survive the swap.
	req := &types.DeployRequest{
		ContainerName: agentContainerName,
		Image:         image,
		RestartPolicy: types.RestartAlways,
	}
	if cfg, err := a.runtime.Inspect(ctx, agentContainerName); err == nil {
		req.Env = envMap(cfg.Env)
		req.Volumes = cfg.Volumes
	} else {
		logger.Warn().Err(err).Msg("Could not inspect own container, using environment fallback")
		req.Env = envMap(os.Environ())
		req.Volumes = []string{a.cfg.DataDir + ":" + a.cfg.DataDir}
	}

	if _, err := a.runtime.Deploy(ctx, req); err != nil {
		logger.Error().Err(err).Msg("Self-upgrade deploy failed")
		return
	}
	// Not reached when the agent runs inside the replaced container.
	logger.Info().Msg("Self-upgrade complete")
}

func envMap(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		for i := 0; i < len(p); i++ {
			if p[i] == '=' {
				out[p[:i]] = p[i+1:]
				break
			}
		}
	}
	return out
}

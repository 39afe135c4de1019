package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/envspec"
	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a service manifest",
	Long: `Apply service definitions from a YAML manifest to a running leader.

Examples:
  # Register or update the services in a manifest
  burrow apply -f services.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("leader", "http://localhost:8443", "Leader URL")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// serviceManifest is the YAML surface for the service catalog.
type serviceManifest struct {
	Services []manifestService `yaml:"services"`
}

type manifestService struct {
	ServiceID     string            `yaml:"service_id"`
	Name          string            `yaml:"name,omitempty"`
	Description   string            `yaml:"description,omitempty"`
	Image         string            `yaml:"image"`
	Ports         map[string]int    `yaml:"ports,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	// EnvFrom holds declarations of the form NAME, NAME=value,
	// NAME=${VAR} or NAME=${VAR:-default}, resolved against the
	// operator's environment at apply time.
	EnvFrom       []string          `yaml:"env_from,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	RestartPolicy string            `yaml:"restart_policy,omitempty"`
	Network       string            `yaml:"network,omitempty"`
	HealthPath    string            `yaml:"health_path,omitempty"`
	HealthPort    int               `yaml:"health_port,omitempty"`
	Tags          []string          `yaml:"tags,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	leaderURL, _ := cmd.Flags().GetString("leader")

	operatorToken := os.Getenv("BURROW_OPERATOR_TOKEN")
	if operatorToken == "" {
		operatorToken = os.Getenv("BURROW_MASTER_SECRET")
	}
	if operatorToken == "" {
		return fmt.Errorf("BURROW_OPERATOR_TOKEN or BURROW_MASTER_SECRET is required")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var manifest serviceManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}
	if len(manifest.Services) == 0 {
		return fmt.Errorf("manifest declares no services")
	}

	c := client.NewOperatorClient(leaderURL, operatorToken)
	for i := range manifest.Services {
		if err := applyService(cmd, c, &manifest.Services[i]); err != nil {
			return err
		}
	}
	return nil
}

func applyService(cmd *cobra.Command, c *client.OperatorClient, ms *manifestService) error {
	if ms.ServiceID == "" || ms.Image == "" {
		return fmt.Errorf("every service needs service_id and image")
	}

	env := ms.Env
	if len(ms.EnvFrom) > 0 {
		decls, err := envspec.ParseAll(ms.EnvFrom)
		if err != nil {
			return fmt.Errorf("service %s: %v", ms.ServiceID, err)
		}
		resolved, err := envspec.Resolve(decls, environMap())
		if err != nil {
			return fmt.Errorf("service %s: %v", ms.ServiceID, err)
		}
		if env == nil {
			env = make(map[string]string, len(resolved))
		}
		for k, v := range resolved {
			if _, explicit := env[k]; !explicit {
				env[k] = v
			}
		}
	}

	svc := &types.ServiceDefinition{
		ServiceID:     ms.ServiceID,
		Name:          ms.Name,
		Description:   ms.Description,
		Image:         ms.Image,
		Ports:         ms.Ports,
		Env:           env,
		Volumes:       ms.Volumes,
		Command:       ms.Command,
		RestartPolicy: types.RestartPolicy(ms.RestartPolicy),
		Network:       ms.Network,
		HealthPath:    ms.HealthPath,
		HealthPort:    ms.HealthPort,
		Tags:          ms.Tags,
	}

	_, err := c.GetService(cmd.Context(), svc.ServiceID)
	switch {
	case err == nil:
		fmt.Printf("Updating service: %s\n", svc.ServiceID)
		if _, err := c.UpdateService(cmd.Context(), svc); err != nil {
			return fmt.Errorf("failed to update service %s: %v", svc.ServiceID, err)
		}
		fmt.Printf("✓ Service updated: %s (image=%s)\n", svc.ServiceID, svc.Image)
	case errors.Is(err, errdefs.ErrNotFound):
		fmt.Printf("Creating service: %s\n", svc.ServiceID)
		if _, err := c.CreateService(cmd.Context(), svc); err != nil {
			return fmt.Errorf("failed to create service %s: %v", svc.ServiceID, err)
		}
		fmt.Printf("✓ Service created: %s (image=%s)\n", svc.ServiceID, svc.Image)
	default:
		return fmt.Errorf("failed to query service %s: %v", svc.ServiceID, err)
	}
	return nil
}

func environMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

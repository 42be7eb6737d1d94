package sandbox

import (
	"context"
	"fmt"
	goruntime "runtime"

	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/config"
)

// NewExecutor picks the container backend: containerd on Linux, Docker
// elsewhere, unless sandbox.backend names one.
func NewExecutor(ctx context.Context, cfg *config.Config) (ContainerExecutor, error) {
	preference := cfg.Sandbox.Backend
	if preference == "" {
		preference = "auto"
	}

	switch preference {
	case "containerd":
		return newContainerdExecutor(ctx, cfg)
	case "docker":
		return newDockerExecutor(ctx, cfg)
	case "auto":
		if goruntime.GOOS == "linux" {
			exec, err := newContainerdExecutor(ctx, cfg)
			if err == nil {
				log.Info().Msg("using containerd backend")
				return exec, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, trying Docker")
		}

		exec, err := newDockerExecutor(ctx, cfg)
		if err == nil {
			log.Info().Msg("using Docker backend")
			return exec, nil
		}

		return nil, fmt.Errorf("%w: install Docker or containerd: %v", ErrBackendUnavailable, err)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be auto, containerd, or docker", preference)
	}
}

func newContainerdExecutor(ctx context.Context, cfg *config.Config) (ContainerExecutor, error) {
	client, err := NewClient(ctx, cfg.Sandbox.ContainerdSocket, cfg.Sandbox.Namespace)
	if err != nil {
		return nil, err
	}

	exec := NewContainerdExecutor(client, ContainerdOptions{
		User:          cfg.Sandbox.User,
		TmpfsBytes:    cfg.Sandbox.TmpfsMB << 20,
		PullImages:    cfg.Sandbox.PullImages,
		CleanupPeriod: cfg.Sandbox.OrphanCleanupInterval,
	})

	cleaned, err := exec.CleanupOrphaned(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to cleanup orphaned containers")
	} else if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned orphaned containers on startup")
	}

	return exec, nil
}

func newDockerExecutor(ctx context.Context, cfg *config.Config) (ContainerExecutor, error) {
	return NewDockerExecutor(ctx, DockerOptions{
		Host:          cfg.Sandbox.DockerHost,
		Strict:        cfg.Sandbox.Seccomp == config.SeccompStrict,
		User:          cfg.Sandbox.User,
		TmpfsBytes:    cfg.Sandbox.TmpfsMB << 20,
		PullImages:    cfg.Sandbox.PullImages,
		CleanupPeriod: cfg.Sandbox.OrphanCleanupInterval,
	})
}

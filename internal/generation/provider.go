package generation

import (
	"context"

	"skyforge/internal/providers/meshy"
	"skyforge/internal/providers/skybox"
)

// ImageProvider is the skybox submit/status contract.
type ImageProvider interface {
	Submit(ctx context.Context, req skybox.SubmitRequest) (string, error)
	Status(ctx context.Context, generationID string) (*skybox.Generation, error)
}

// MeshProvider is the text-to-3D submit/status contract.
type MeshProvider interface {
	Submit(ctx context.Context, req meshy.SubmitRequest) (string, error)
	Status(ctx context.Context, taskID string) (*meshy.Task, error)
}

// ProgressFunc receives a sub-job's progress percentage after each poll.
type ProgressFunc func(percent int)

var (
	_ ImageProvider = (*skybox.Client)(nil)
	_ MeshProvider  = (*meshy.Client)(nil)
)

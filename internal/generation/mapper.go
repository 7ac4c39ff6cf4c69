package generation

import (
	"sort"

	"skyforge/internal/domain"
	"skyforge/internal/providers/meshy"
	"skyforge/internal/providers/skybox"
)

const (
	ImageFormat = "png"

	// Flat per-task list prices used for cost accounting.
	ImageEstimatedCost = 0.05
	MeshEstimatedCost  = 0.20
)

// ImageSpec is the image sub-job input echoed into the result.
type ImageSpec struct {
	Prompt string
	domain.ImageConfig
}

// MeshSpec is the mesh sub-job input echoed into the result. Config is
// expected to carry defaults already.
type MeshSpec struct {
	Prompt string
	Config domain.MeshConfig
}

// MapImageResult normalizes a completed skybox payload. It reads no clock
// and no randomness, so equal inputs give equal results.
func MapImageResult(gen *skybox.Generation, spec ImageSpec) domain.ImageResult {
	res := domain.ImageResult{
		ID:             gen.ID,
		Status:         domain.ResultStatusCompleted,
		FileURL:        deref(gen.FileURL),
		ThumbnailURL:   deref(gen.ThumbnailURL),
		Prompt:         spec.Prompt,
		StyleID:        spec.StyleID,
		NegativePrompt: spec.NegativePrompt,
		Format:         ImageFormat,
		Metadata: domain.ResultMetadata{
			EstimatedCost: ImageEstimatedCost,
		},
	}
	if gen.StyleID != nil {
		res.StyleID = *gen.StyleID
	}
	if gen.CreatedAt != nil && gen.UpdatedAt != nil && gen.UpdatedAt.After(*gen.CreatedAt) {
		res.Metadata.GenerationMS = gen.UpdatedAt.Sub(*gen.CreatedAt).Milliseconds()
	}
	return res
}

// MapMeshResult normalizes a succeeded mesh task. The model URL follows the
// requested output format and falls back to glb, then to the first format
// in lexical order. Format names the file actually referenced.
func MapMeshResult(task *meshy.Task, spec MeshSpec) domain.MeshResult {
	format, modelURL := pickModelURL(task.ModelURLs, spec.Config.OutputFormat)
	res := domain.MeshResult{
		ID:              task.ID,
		Status:          domain.ResultStatusCompleted,
		ModelURL:        modelURL,
		ThumbnailURL:    deref(task.ThumbnailURL),
		VideoURL:        deref(task.VideoURL),
		Prompt:          spec.Prompt,
		ArtStyle:        spec.Config.ArtStyle,
		AIModel:         spec.Config.AIModel,
		Topology:        spec.Config.Topology,
		TargetPolycount: spec.Config.TargetPolycount,
		Quality:         spec.Config.Quality,
		Format:          format,
		Metadata: domain.ResultMetadata{
			EstimatedCost: MeshEstimatedCost,
		},
	}
	if len(task.ModelURLs) > 0 {
		res.ModelURLs = make(map[string]string, len(task.ModelURLs))
		for k, v := range task.ModelURLs {
			res.ModelURLs[k] = v
		}
	}
	if task.FinishedAt != nil {
		start := task.CreatedAt
		if task.StartedAt != nil {
			start = *task.StartedAt
		}
		if start > 0 && *task.FinishedAt > start {
			res.Metadata.GenerationMS = *task.FinishedAt - start
		}
	}
	return res
}

func pickModelURL(urls map[string]string, requested string) (string, string) {
	if requested == "" {
		requested = "glb"
	}
	if u := urls[requested]; u != "" {
		return requested, u
	}
	if u := urls["glb"]; u != "" {
		return "glb", u
	}
	keys := make([]string, 0, len(urls))
	for k, v := range urls {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return requested, ""
	}
	sort.Strings(keys)
	return keys[0], urls[keys[0]]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

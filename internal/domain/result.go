package domain

// ResultStatusCompleted is the only status a mapped result can carry.
const ResultStatusCompleted = "completed"

// ResultMetadata is provenance captured from the provider payload.
type ResultMetadata struct {
	SizeBytes     int64   `json:"size_bytes,omitempty"`
	GenerationMS  int64   `json:"generation_ms"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// ImageResult is the provider-agnostic snapshot of a finished skybox.
type ImageResult struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	FileURL        string         `json:"file_url"`
	ThumbnailURL   string         `json:"thumbnail_url,omitempty"`
	Prompt         string         `json:"prompt"`
	StyleID        int            `json:"style_id"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Format         string         `json:"format"`
	Metadata       ResultMetadata `json:"metadata"`
}

// MeshResult is the provider-agnostic snapshot of a finished 3D model.
type MeshResult struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	ModelURL        string            `json:"model_url"`
	ModelURLs       map[string]string `json:"model_urls,omitempty"`
	ThumbnailURL    string            `json:"thumbnail_url,omitempty"`
	VideoURL        string            `json:"video_url,omitempty"`
	Prompt          string            `json:"prompt"`
	ArtStyle        string            `json:"art_style"`
	AIModel         string            `json:"ai_model"`
	Topology        string            `json:"topology"`
	TargetPolycount int               `json:"target_polycount"`
	Quality         string            `json:"quality"`
	Format          string            `json:"format"`
	Metadata        ResultMetadata    `json:"metadata"`
}

func (m MeshResult) clone() MeshResult {
	out := m
	if m.ModelURLs != nil {
		out.ModelURLs = make(map[string]string, len(m.ModelURLs))
		for k, v := range m.ModelURLs {
			out.ModelURLs[k] = v
		}
	}
	return out
}

package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// MaxPromptLength bounds the prompt in characters, not bytes.
const MaxPromptLength = 1000

// MeshDisabled is the sentinel accepted in place of a mesh config object.
const MeshDisabled = "disabled"

const (
	MeshQualityLow    = "low"
	MeshQualityMedium = "medium"
	MeshQualityHigh   = "high"
)

// ImageConfig enables skybox generation.
type ImageConfig struct {
	StyleID        int    `json:"style_id" validate:"required,gt=0"`
	NegativePrompt string `json:"negative_prompt,omitempty" validate:"max=1000"`
}

// MeshConfig tunes 3D mesh generation. Empty fields take defaults.
type MeshConfig struct {
	ArtStyle        string `json:"art_style,omitempty" validate:"omitempty,oneof=realistic sculpture"`
	AIModel         string `json:"ai_model,omitempty" validate:"omitempty,oneof=meshy-4 meshy-5 latest"`
	Topology        string `json:"topology,omitempty" validate:"omitempty,oneof=quad triangle"`
	TargetPolycount int    `json:"target_polycount,omitempty" validate:"omitempty,min=100,max=300000"`
	OutputFormat    string `json:"output_format,omitempty" validate:"omitempty,oneof=glb fbx obj usdz"`
	Quality         string `json:"quality,omitempty" validate:"omitempty,oneof=low medium high"`
}

// WithDefaults fills unset fields. A zero polycount derives from quality.
func (c MeshConfig) WithDefaults() MeshConfig {
	c.ArtStyle = lowerOr(c.ArtStyle, "realistic")
	c.AIModel = lowerOr(c.AIModel, "latest")
	c.Topology = lowerOr(c.Topology, "triangle")
	c.OutputFormat = lowerOr(c.OutputFormat, "glb")
	c.Quality = lowerOr(c.Quality, MeshQualityMedium)
	if c.TargetPolycount == 0 {
		c.TargetPolycount = PolycountForQuality(c.Quality)
	}
	return c
}

// PolycountForQuality maps a quality tier to a target polycount.
func PolycountForQuality(quality string) int {
	switch quality {
	case MeshQualityLow:
		return 10000
	case MeshQualityHigh:
		return 100000
	default:
		return 30000
	}
}

func lowerOr(v, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	return v
}

// MeshOption is either the "disabled" sentinel or an optional config.
// The zero value means mesh generation is enabled with defaults.
type MeshOption struct {
	Disabled bool
	Config   *MeshConfig `validate:"omitempty"`
}

func (m *MeshOption) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*m = MeshOption{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(s), MeshDisabled) {
			*m = MeshOption{Disabled: true}
			return nil
		}
		return fmt.Errorf("mesh: unsupported value %q", s)
	}
	var cfg MeshConfig
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return fmt.Errorf("mesh: %w", err)
	}
	*m = MeshOption{Config: &cfg}
	return nil
}

func (m MeshOption) MarshalJSON() ([]byte, error) {
	if m.Disabled {
		return json.Marshal(MeshDisabled)
	}
	if m.Config == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m.Config)
}

// GenerationRequest is the transient input of one orchestrated run.
type GenerationRequest struct {
	Prompt      string       `json:"prompt" validate:"required,max=1000"`
	RequesterID string       `json:"requester_id" validate:"required"`
	Image       *ImageConfig `json:"image,omitempty" validate:"omitempty"`
	Mesh        MeshOption   `json:"mesh"`
}

// ImageEnabled reports whether the skybox sub-job runs.
func (r GenerationRequest) ImageEnabled() bool { return r.Image != nil }

// MeshEnabled reports whether the mesh sub-job runs.
func (r GenerationRequest) MeshEnabled() bool { return !r.Mesh.Disabled }

// Clone deep-copies the optional configs.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	if r.Image != nil {
		img := *r.Image
		out.Image = &img
	}
	if r.Mesh.Config != nil {
		cfg := *r.Mesh.Config
		out.Mesh.Config = &cfg
	}
	return out
}

// Normalize returns a copy with NFC-normalized, trimmed text and mesh defaults applied.
func (r GenerationRequest) Normalize() GenerationRequest {
	out := r.Clone()
	out.Prompt = strings.TrimSpace(norm.NFC.String(out.Prompt))
	out.RequesterID = strings.TrimSpace(out.RequesterID)
	if out.Image != nil {
		out.Image.NegativePrompt = strings.TrimSpace(norm.NFC.String(out.Image.NegativePrompt))
	}
	if out.Mesh.Disabled {
		out.Mesh.Config = nil
		return out
	}
	cfg := MeshConfig{}
	if out.Mesh.Config != nil {
		cfg = *out.Mesh.Config
	}
	cfg = cfg.WithDefaults()
	out.Mesh.Config = &cfg
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// Validate checks the request without side effects.
func (r GenerationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return newValidationError(fieldErrs)
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !r.ImageEnabled() && !r.MeshEnabled() {
		return &ValidationError{Fields: map[string]string{
			"mesh": "at least one of image or mesh generation must be enabled",
		}}
	}
	return nil
}

// ValidationError lists per-field problems. It matches ErrInvalidRequest.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	out := &ValidationError{Fields: make(map[string]string, len(errs))}
	for _, fe := range errs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		out.Fields[field] = describeTag(fe)
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

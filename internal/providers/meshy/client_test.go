package meshy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyforge/internal/domain"
)

func TestSubmitSendsPreviewTask(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/openapi/v2/text-to-3d", r.URL.Path)
		assert.Equal(t, "Bearer msy-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"result": "018a210d-8ba4-705c-b111-1f1776f7f578"}`))
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "msy-key", BaseURL: srv.URL})
	id, err := client.Submit(context.Background(), SubmitRequest{
		Prompt:          "a wooden chair",
		ArtStyle:        "realistic",
		AIModel:         "latest",
		Topology:        "triangle",
		TargetPolycount: 30000,
	})
	require.NoError(t, err)
	assert.Equal(t, "018a210d-8ba4-705c-b111-1f1776f7f578", id)
	assert.Equal(t, "preview", got["mode"])
	assert.Equal(t, true, got["should_remesh"])
	assert.Equal(t, "auto", got["symmetry_mode"])
	assert.Equal(t, false, got["moderation"])
	assert.EqualValues(t, 30000, got["target_polycount"])
}

func TestStatusParsesTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openapi/v2/text-to-3d/task-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "task-1",
			"status": "SUCCEEDED",
			"progress": 100,
			"model_urls": {"glb": "https://assets.example/m.glb", "FBX": "https://assets.example/m.fbx", "usdz": ""},
			"thumbnail_url": "https://assets.example/t.png",
			"video_url": "https://assets.example/v.mp4",
			"task_error": {"message": ""},
			"created_at": 1700000000000,
			"started_at": 1700000001000,
			"finished_at": 1700000031000
		}`))
	}))
	defer srv.Close()

	task, err := NewClient(Options{APIKey: "k", BaseURL: srv.URL}).Status(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", task.Status)
	require.NotNil(t, task.Progress)
	assert.Equal(t, 100, *task.Progress)
	assert.Equal(t, map[string]string{
		"glb": "https://assets.example/m.glb",
		"fbx": "https://assets.example/m.fbx",
	}, task.ModelURLs)
	assert.Nil(t, task.TaskError)
	assert.Equal(t, int64(1700000000000), task.CreatedAt)
	require.NotNil(t, task.FinishedAt)
	assert.Equal(t, int64(1700000031000), *task.FinishedAt)
}

func TestStatusFailedTaskKeepsErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "t", "status": "FAILED", "task_error": {"message": "prompt rejected"}, "created_at": 1}`))
	}))
	defer srv.Close()

	task, err := NewClient(Options{APIKey: "k", BaseURL: srv.URL}).Status(context.Background(), "t")
	require.NoError(t, err)
	require.NotNil(t, task.TaskError)
	assert.Equal(t, "prompt rejected", *task.TaskError)
	assert.Nil(t, task.Progress)
}

func TestStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Task not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Options{APIKey: "k", BaseURL: srv.URL}).Status(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrProviderTaskNotFound)
}

func TestMissingAPIKey(t *testing.T) {
	_, err := NewClient(Options{}).Status(context.Background(), "t")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

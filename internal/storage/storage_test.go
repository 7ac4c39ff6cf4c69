package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assetServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcherDirect(t *testing.T) {
	srv := assetServer(t, "png-bytes")
	f := NewFetcher(FetcherOptions{HTTPClient: srv.Client()})

	asset, err := f.Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(asset.Data))
	assert.Equal(t, "image/png", asset.ContentType)
}

func TestFetcherEnforcesSizeLimit(t *testing.T) {
	srv := assetServer(t, strings.Repeat("x", 64))
	f := NewFetcher(FetcherOptions{MaxBytes: 16})

	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrAssetTooLarge)
}

func TestFetcherUsesProxyForListedHosts(t *testing.T) {
	var proxied atomic.Value
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Store(r.URL.Query().Get("url"))
		_, _ = io.WriteString(w, "via-proxy")
	}))
	defer proxy.Close()

	f := NewFetcher(FetcherOptions{ProxyURL: proxy.URL, ProxyHosts: []string{"Assets.Example"}})
	asset, err := f.Fetch(context.Background(), "https://cdn.assets.example/m.glb")
	require.NoError(t, err)
	assert.Equal(t, "via-proxy", string(asset.Data))
	assert.Equal(t, "https://cdn.assets.example/m.glb", proxied.Load())
}

func TestFetcherFallsBackToDirectWhenProxyFails(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxy.Close()
	origin := assetServer(t, "direct")
	host, _, _ := strings.Cut(strings.TrimPrefix(origin.URL, "http://"), ":")

	f := NewFetcher(FetcherOptions{ProxyURL: proxy.URL, ProxyHosts: []string{host}})
	asset, err := f.Fetch(context.Background(), origin.URL+"/m.glb")
	require.NoError(t, err)
	assert.Equal(t, "direct", string(asset.Data))
}

func TestFetcherProxyAllowed(t *testing.T) {
	f := NewFetcher(FetcherOptions{ProxyHosts: []string{"assets.meshy.ai", " "}})
	assert.True(t, f.ProxyAllowed("https://assets.meshy.ai/x.glb"))
	assert.True(t, f.ProxyAllowed("https://eu.assets.meshy.ai/x.glb"))
	assert.False(t, f.ProxyAllowed("https://evilassets.meshy.ai.example/x.glb"))
	assert.False(t, f.ProxyAllowed("ftp://assets.meshy.ai/x.glb"))
	assert.False(t, f.ProxyAllowed("::not a url"))
}

func TestFileStoreStore(t *testing.T) {
	srv := assetServer(t, "mesh-bytes")
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/", nil)
	require.NoError(t, err)

	got, err := store.Store(context.Background(), srv.URL+"/m.glb", "/generations/u/job/1-mesh.glb")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/static/generations/u/job/1-mesh.glb", got)

	data, err := os.ReadFile(filepath.Join(dir, "generations", "u", "job", "1-mesh.glb"))
	require.NoError(t, err)
	assert.Equal(t, "mesh-bytes", string(data))
	_, err = os.Stat(filepath.Join(dir, "generations", "u", "job", "1-mesh.glb.part"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "", nil)
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../escape.png", "a/../../b"} {
		_, err := store.Write(context.Background(), key, []byte("x"))
		assert.Error(t, err, key)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore("  ", "", nil)
	assert.Error(t, err)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (p *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.input = in
	data, _ := io.ReadAll(in.Body)
	p.body = string(data)
	if p.err != nil {
		return nil, p.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreUploadsAndBuildsURL(t *testing.T) {
	srv := assetServer(t, "sky")
	putter := &fakePutter{}
	store := NewS3StoreWithClient(putter, S3Options{Bucket: "assets", Endpoint: "https://r2.example/"}, nil, nil)

	got, err := store.Store(context.Background(), srv.URL, "generations/u/j/1-image.png")
	require.NoError(t, err)
	assert.Equal(t, "https://r2.example/assets/generations/u/j/1-image.png", got)
	assert.Equal(t, "assets", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "generations/u/j/1-image.png", aws.ToString(putter.input.Key))
	assert.Equal(t, "image/png", aws.ToString(putter.input.ContentType))
	assert.Equal(t, "sky", putter.body)

	public := NewS3StoreWithClient(putter, S3Options{Bucket: "assets", PublicURL: "https://cdn.example/"}, nil, nil)
	assert.Equal(t, "https://cdn.example/k.png", public.ObjectURL("k.png"))
}

func TestS3StoreUploadFailure(t *testing.T) {
	srv := assetServer(t, "sky")
	store := NewS3StoreWithClient(&fakePutter{err: errors.New("access denied")}, S3Options{Bucket: "assets", Endpoint: "https://r2.example"}, nil, nil)

	_, err := store.Store(context.Background(), srv.URL, "k.png")
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Options{Endpoint: "https://r2.example"}, nil, nil)
	assert.Error(t, err)
}

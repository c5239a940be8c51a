package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/plans/o")
		assert.Equal(t, "exports/wf-1/clusters.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"hubs":[]}`)
		fmt.Fprintln(w, `{"name": "exports/wf-1/clusters.json"}`)
	})
	store := newTestStore(t, handler, Config{Bucket: "plans", Prefix: "/exports/"})

	uri, err := store.PutObject(context.Background(), "wf-1/clusters.json", "application/json", []byte(`{"hubs":[]}`))
	require.NoError(t, err)
	require.Equal(t, "gs://plans/exports/wf-1/clusters.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler, Config{Bucket: "plans"})

	_, err := store.PutObject(context.Background(), "wf-1/clusters.json", "application/json", []byte("{}"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "application/json", nil)
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

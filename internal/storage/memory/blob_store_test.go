package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"clusters":[]}`)
	uri, err := store.PutObject(context.Background(), "exports/wf/clusters.json", "application/json", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://exports/wf/clusters.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '['
	stored, ok := store.Object("exports/wf/clusters.json")
	if !ok {
		t.Fatal("expected object to exist")
	}
	if string(stored) != `{"clusters":[]}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := NewBlobStore().PutObject(context.Background(), "", "", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

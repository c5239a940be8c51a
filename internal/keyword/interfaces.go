package keyword

import (
	"context"
	"time"
)

// SeedProvider looks up the keywords a competitor domain ranks for.
type SeedProvider interface {
	RankedKeywords(ctx context.Context, req ProviderRequest) ([]ProviderKeyword, error)
}

// DiscoverySource expands a seed keyword into related longtail candidates.
type DiscoverySource interface {
	Name() string
	Discover(ctx context.Context, req ProviderRequest) ([]ProviderKeyword, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes analytics messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

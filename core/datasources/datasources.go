package datasources

import (
	"context"

	"github.com/mapfeed/mapfeed-indexer/core/types"
	"github.com/mapfeed/mapfeed-indexer/internal/subscription"
)

// Datasource is an interface for streamer data sources.
type Datasource[T any] interface {
	Name() string
	Fetch(ctx context.Context, from, to int64) ([]T, error)
	FetchAsync(ctx context.Context, from, to int64, ch chan<- []T) (*subscription.ClientSubscription[[]T], error)
	GetBlockHeader(ctx context.Context, height int64) (types.BlockHeader, error)
}

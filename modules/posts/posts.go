package posts

import (
	"context"
	"strings"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/cockroachdb/errors"
	"github.com/samber/do/v2"

	"github.com/mapfeed/mapfeed-indexer/common/errs"
	"github.com/mapfeed/mapfeed-indexer/core/datasources"
	"github.com/mapfeed/mapfeed-indexer/core/streamer"
	"github.com/mapfeed/mapfeed-indexer/core/types"
	"github.com/mapfeed/mapfeed-indexer/internal/config"
	"github.com/mapfeed/mapfeed-indexer/internal/postgres"
	postsconfig "github.com/mapfeed/mapfeed-indexer/modules/posts/config"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/datagateway"
	postspostgres "github.com/mapfeed/mapfeed-indexer/modules/posts/repository/postgres"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
)

// New wires the posts module: storage, processor, datasource, and the
// streamer driving them. The returned streamer is run by the caller.
func New(injector do.Injector) (*streamer.Streamer, error) {
	ctx := do.MustInvoke[context.Context](injector)
	conf := do.MustInvoke[config.Config](injector)
	moduleConf := conf.Modules.Posts

	var dg datagateway.PostsDataGateway
	switch strings.ToLower(moduleConf.Database) {
	case "postgresql", "postgres", "pg":
		pg, err := postgres.NewPool(ctx, moduleConf.Postgres)
		if err != nil {
			if errors.Is(err, errs.InvalidArgument) {
				return nil, errors.Wrap(err, "invalid Postgres configuration")
			}
			return nil, errors.Wrap(err, "can't create Postgres connection pool")
		}
		dg = postspostgres.NewRepository(pg)
	default:
		return nil, errors.Wrapf(errs.Unsupported, "%q database is not supported", moduleConf.Database)
	}

	var datasource datasources.Datasource[*types.Event]
	switch strings.ToLower(moduleConf.Datasource) {
	case "bitcoin-node":
		client := do.MustInvoke[*rpcclient.Client](injector)
		datasource = datasources.NewBitcoinNode(client, conf.Network, moduleConf.Mempool)
	default:
		return nil, errors.Wrapf(errs.Unsupported, "%q datasource is not supported", moduleConf.Datasource)
	}

	processor := NewProcessor(moduleConf.Processor, dg)
	processor.Start(ctx)
	logger.InfoContext(ctx, "Initialized posts processor")

	rewindDepth := moduleConf.ReorgRewindDepth
	if rewindDepth <= 0 {
		rewindDepth = postsconfig.DefaultReorgRewindDepth
	}
	return streamer.New(processor, datasource, moduleConf.StartBlockHeight, rewindDepth), nil
}

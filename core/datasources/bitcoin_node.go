package datasources

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/cockroachdb/errors"
	"github.com/mapfeed/mapfeed-indexer/common"
	"github.com/mapfeed/mapfeed-indexer/core/types"
	"github.com/mapfeed/mapfeed-indexer/internal/subscription"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
	cstream "github.com/planxnx/concurrent-stream"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	// fetchConcurrency is the number of parallel block fetchers per round.
	fetchConcurrency = 8

	// chunkSize is the number of block heights claimed by one fetcher task.
	chunkSize = 10
)

// Make sure to implement the Datasource interface
var _ Datasource[*types.Event] = (*BitcoinNodeDatasource)(nil)

// BitcoinNodeDatasource streams transaction events from a Bitcoin node.
// Confirmed transactions are fetched block by block; mempool transactions
// are delivered through the same channel when enabled.
type BitcoinNodeDatasource struct {
	client         *rpcclient.Client
	network        common.Network
	includeMempool bool
}

func NewBitcoinNode(client *rpcclient.Client, network common.Network, includeMempool bool) *BitcoinNodeDatasource {
	return &BitcoinNodeDatasource{
		client:         client,
		network:        network,
		includeMempool: includeMempool,
	}
}

func (d *BitcoinNodeDatasource) Name() string {
	return "bitcoin-node"
}

// Fetch collects events between the given heights.
//
//   - from: block height to start fetching, if -1, it will start from genesis block
//   - to: block height to stop fetching, if -1, it will fetch until the latest block
func (d *BitcoinNodeDatasource) Fetch(ctx context.Context, from, to int64) ([]*types.Event, error) {
	ch := make(chan []*types.Event)
	subscription, err := d.FetchAsync(ctx, from, to, ch)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer subscription.Unsubscribe()

	events := make([]*types.Event, 0)
	for {
		select {
		case batch := <-ch:
			events = append(events, batch...)
		case <-subscription.Done():
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "context done")
			}
			return events, nil
		case err := <-subscription.Err():
			if err != nil {
				return nil, errors.Wrap(err, "got error while fetch async")
			}
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "context done")
		}
	}
}

// FetchAsync streams events between the given heights without blocking the
// caller. Block batches are delivered in height order; when the range ends at
// the chain tip, mempool transactions (if enabled) and a waiting status
// follow.
func (d *BitcoinNodeDatasource) FetchAsync(ctx context.Context, from, to int64, ch chan<- []*types.Event) (*subscription.ClientSubscription[[]*types.Event], error) {
	from, to, skip, err := d.prepareRange(from, to)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare fetch range")
	}

	sub := subscription.New(ch)
	if skip {
		// nothing confirmed to fetch, deliver mempool and waiting status only
		go func() {
			defer sub.Unsubscribe()
			events := d.mempoolEvents(ctx)
			events = append(events, types.NewStatusEvent(types.Status{Kind: types.StatusWaiting}))
			if err := sub.Send(ctx, events); err != nil {
				logger.ErrorContext(ctx, "Failed to dispatch mempool events", slogx.Error(err))
			}
		}()
		return sub.Client(), nil
	}

	// Create parallel stream
	out := make(chan []*types.Event)
	stream := cstream.NewStream(ctx, fetchConcurrency, out)

	heights := make([]int64, 0, to-from+1)
	for h := from; h <= to; h++ {
		heights = append(heights, h)
	}

	// Wait for stream to finish and close out channel
	go func() {
		defer close(out)
		_ = stream.Wait()
	}()

	// Fan-out events to subscription channel
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case batch, ok := <-out:
				if !ok {
					return
				}
				if len(batch) == 0 {
					continue
				}
				if err := sub.Send(ctx, batch); err != nil {
					logger.ErrorContext(ctx, "Failed to dispatch events", slogx.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Parallel fetch blocks from the node until all heights are claimed or
	// the subscription is done. Stream output preserves height order.
	go func() {
		defer stream.Close()
		done := sub.Done()
		chunks := lo.Chunk(heights, chunkSize)
		for _, chunk := range chunks {
			chunk := chunk
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
				stream.Go(func() []*types.Event {
					events, err := d.fetchBlockRange(ctx, chunk)
					if err != nil {
						logger.ErrorContext(ctx, "Failed to fetch blocks",
							slogx.Error(err),
							slogx.Int64("from_height", chunk[0]),
							slogx.Int64("to_height", chunk[len(chunk)-1]),
						)
						if err := sub.SendError(ctx, errors.Wrapf(err, "failed to fetch blocks %d-%d", chunk[0], chunk[len(chunk)-1])); err != nil {
							logger.ErrorContext(ctx, "Failed to send error", slogx.Error(err))
						}
						return nil
					}
					return events
				})
			}
		}

		// tail of the round: mempool and waiting status after the last block
		stream.Go(func() []*types.Event {
			events := d.mempoolEvents(ctx)
			return append(events, types.NewStatusEvent(types.Status{Kind: types.StatusWaiting}))
		})
	}()

	return sub.Client(), nil
}

// GetBlockHeader returns the header at the given height.
func (d *BitcoinNodeDatasource) GetBlockHeader(ctx context.Context, height int64) (types.BlockHeader, error) {
	hash, err := d.client.GetBlockHash(height)
	if err != nil {
		return types.BlockHeader{}, errors.Wrapf(err, "failed to get block hash, height: %d", height)
	}
	header, err := d.client.GetBlockHeader(hash)
	if err != nil {
		return types.BlockHeader{}, errors.Wrapf(err, "failed to get block header, hash: %s", hash)
	}
	return types.ParseBlockHeader(*header, height), nil
}

func (d *BitcoinNodeDatasource) fetchBlockRange(ctx context.Context, heights []int64) ([]*types.Event, error) {
	events := make([]*types.Event, 0, len(heights)*2)
	for _, height := range heights {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		hash, err := d.client.GetBlockHash(height)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get block hash, height: %d", height)
		}
		block, err := d.client.GetBlock(hash)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get block, hash: %s", hash)
		}
		events = append(events, d.blockEvents(block, height)...)
	}
	return events, nil
}

// blockEvents converts one block into transaction events followed by a
// block_done status carrying the header.
func (d *BitcoinNodeDatasource) blockEvents(block *wire.MsgBlock, height int64) []*types.Event {
	events := make([]*types.Event, 0, len(block.Transactions)+1)
	for _, msgTx := range block.Transactions {
		events = append(events, types.NewTxEvent(d.parseTransaction(msgTx, height, block.Header.Timestamp, false)))
	}
	events = append(events, types.NewStatusEvent(types.Status{
		Kind:   types.StatusBlockDone,
		Header: types.ParseBlockHeader(block.Header, height),
	}))
	return events
}

func (d *BitcoinNodeDatasource) mempoolEvents(ctx context.Context) []*types.Event {
	if !d.includeMempool {
		return nil
	}

	hashes, err := d.client.GetRawMempool()
	if err != nil {
		logger.WarnContext(ctx, "Failed to fetch mempool, skipping this round", slogx.Error(err))
		return nil
	}

	results := make([]*types.Event, len(hashes))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, hash := range hashes {
		i, hash := i, hash
		g.Go(func() error {
			rawTx, err := d.client.GetRawTransaction(hash)
			if err != nil {
				// evicted or mined between listing and fetching
				return nil
			}
			tx := d.parseTransaction(rawTx.MsgTx(), types.MempoolHeight, time.Time{}, true)
			results[i] = types.NewTxEvent(tx)
			return nil
		})
	}
	_ = g.Wait()

	return lo.Filter(results, func(event *types.Event, _ int) bool { return event != nil })
}

func (d *BitcoinNodeDatasource) parseTransaction(msgTx *wire.MsgTx, height int64, blockTime time.Time, mempool bool) *types.Transaction {
	outputScripts := make([][]byte, 0, len(msgTx.TxOut))
	addresses := make([]string, 0)
	for _, txOut := range msgTx.TxOut {
		outputScripts = append(outputScripts, txOut.PkScript)
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(txOut.PkScript, d.network.ChainParams())
		if err != nil {
			continue
		}
		addresses = append(addresses, encodeAddresses(addrs)...)
	}

	return &types.Transaction{
		TxID:          msgTx.TxHash().String(),
		BlockHeight:   height,
		BlockTime:     blockTime,
		OutputScripts: outputScripts,
		Addresses:     lo.Uniq(addresses),
		Mempool:       mempool,
	}
}

func encodeAddresses(addrs []btcutil.Address) []string {
	return lo.Map(addrs, func(addr btcutil.Address, _ int) string {
		return addr.EncodeAddress()
	})
}

func (d *BitcoinNodeDatasource) prepareRange(fromHeight, toHeight int64) (start, end int64, skip bool, err error) {
	start = fromHeight
	end = toHeight

	latestBlockHeight, err := d.client.GetBlockCount()
	if err != nil {
		return -1, -1, false, errors.Wrap(err, "failed to get block count")
	}

	// set start to genesis block height
	if start < 0 {
		start = 0
	}

	// set end to current block height if
	// - end is -1
	// - end is greater than current block height
	if end < 0 || end > latestBlockHeight {
		end = latestBlockHeight
	}

	// if start is greater than end, skip this round
	if start > end {
		return -1, -1, true, nil
	}

	return start, end, false, nil
}

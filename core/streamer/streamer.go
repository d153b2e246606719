package streamer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mapfeed/mapfeed-indexer/common"
	"github.com/mapfeed/mapfeed-indexer/common/errs"
	"github.com/mapfeed/mapfeed-indexer/core/datasources"
	"github.com/mapfeed/mapfeed-indexer/core/types"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
)

const (
	// pollingInterval is the delay between consumption rounds once the
	// stream has caught up with the chain tip.
	pollingInterval = 15 * time.Second

	shutdownTimeout = 180 * time.Second
)

// Processor consumes the transaction event stream. The same ProcessTx handler
// receives mempool and confirmed transactions and must tolerate duplicate
// delivery of the same txid.
type Processor interface {
	Name() string

	// ResumeHeight returns the height the stream should resume after.
	// Returns errs.NotFound when nothing has been indexed yet.
	ResumeHeight(ctx context.Context) (int64, error)

	ProcessTx(ctx context.Context, tx *types.Transaction) error
	ProcessStatus(ctx context.Context, status *types.Status) error

	Shutdown(ctx context.Context) error
}

// Streamer drives one consumption path: it subscribes to the datasource from
// a resume height, pushes every event through the processor, and reconnects
// with the same resume point after transport errors so blocks are never
// silently skipped.
type Streamer struct {
	processor  Processor
	datasource datasources.Datasource[*types.Event]

	// startHeight seeds the resume point when the processor has no state.
	startHeight int64

	// rewindDepth is how far the resume point is walked back after a
	// detected chain reorganization. Replayed blocks are no-ops downstream
	// because persistence is idempotent.
	rewindDepth int64

	currentHeight int64
	lastHeader    types.BlockHeader

	quitOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

func New(processor Processor, datasource datasources.Datasource[*types.Event], startHeight, rewindDepth int64) *Streamer {
	return &Streamer{
		processor:   processor,
		datasource:  datasource,
		startHeight: startHeight,
		rewindDepth: rewindDepth,
		lastHeader:  types.BlockHeader{Height: -1, Hash: common.ZeroHash},
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (s *Streamer) Shutdown() error {
	return s.ShutdownWithContext(context.Background())
}

func (s *Streamer) ShutdownWithContext(ctx context.Context) (err error) {
	s.quitOnce.Do(func() {
		close(s.quit)
		select {
		case <-s.done:
		case <-time.After(shutdownTimeout):
			err = errors.Wrap(errs.Timeout, "streamer shutdown timeout")
		case <-ctx.Done():
			err = errors.Wrap(ctx.Err(), "streamer shutdown context canceled")
		}
	})
	return
}

func (s *Streamer) Run(ctx context.Context) (err error) {
	defer close(s.done)

	ctx = logger.WithContext(ctx,
		slog.String("package", "streamer"),
		slog.String("processor", s.processor.Name()),
		slog.String("datasource", s.datasource.Name()),
	)

	s.currentHeight, err = s.processor.ResumeHeight(ctx)
	if err != nil {
		if !errors.Is(err, errs.NotFound) {
			return errors.Wrap(err, "can't init state, failed to get resume height")
		}
		s.currentHeight = s.startHeight
	}

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	// first round runs immediately, subsequent rounds follow the ticker
	for {
		if err := s.consumeRound(ctx); err != nil {
			logger.ErrorContext(ctx, "Streamer failed while consuming, will reconnect and resume",
				slogx.Error(err),
				slogx.Int64("resume_height", s.currentHeight),
			)
		}

		select {
		case <-s.quit:
			logger.InfoContext(ctx, "Got quit signal, stopping streamer")
			if err := s.processor.Shutdown(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown processor", slogx.Error(err))
				return errors.Wrap(err, "processor shutdown failed")
			}
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// consumeRound subscribes from the current resume height and dispatches
// events until the round completes or fails. A failed round never advances
// the resume height past the last fully processed block.
func (s *Streamer) consumeRound(ctx context.Context) error {
	ch := make(chan []*types.Event)
	sub, err := s.datasource.FetchAsync(ctx, s.currentHeight+1, -1, ch)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to datasource")
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-s.quit:
			return nil
		case events := <-ch:
			for _, event := range events {
				next, err := s.dispatch(ctx, event)
				if err != nil {
					return errors.WithStack(err)
				}
				if !next {
					return nil
				}
			}
		case <-sub.Done():
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "context done")
			}
			return nil
		case err := <-sub.Err():
			if err != nil {
				// surface to the processor, then end the round; the next
				// round reconnects with the same resume height
				_ = s.processor.ProcessStatus(ctx, &types.Status{Kind: types.StatusError, Err: err})
				return errors.Wrap(err, "datasource error")
			}
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}

// dispatch handles one event. It returns next=false when the round should
// end early (e.g. after a reorg rewind).
func (s *Streamer) dispatch(ctx context.Context, event *types.Event) (next bool, err error) {
	switch {
	case event.Transaction != nil:
		tx := event.Transaction
		if err := s.processor.ProcessTx(ctx, tx); err != nil {
			// contained per transaction: the stream keeps going, the failure
			// is recorded with its txid
			logger.ErrorContext(ctx, "Failed to process transaction",
				slogx.Error(err),
				slogx.String("txid", tx.TxID),
				slogx.Int64("block_height", tx.BlockHeight),
			)
		}
		return true, nil

	case event.Status != nil:
		status := event.Status
		if status.Kind == types.StatusBlockDone {
			if reorged := s.checkReorg(ctx, status.Header); reorged {
				return false, nil
			}
			s.lastHeader = status.Header
			s.currentHeight = status.Header.Height
		}
		if err := s.processor.ProcessStatus(ctx, status); err != nil {
			return false, errors.Wrap(err, "failed to process status event")
		}
		return true, nil
	}

	return true, nil
}

// checkReorg compares the incoming block's previous hash with the last
// processed block. On mismatch it surfaces a reorg status and rewinds the
// resume point so the affected range is fetched and re-upserted.
func (s *Streamer) checkReorg(ctx context.Context, header types.BlockHeader) bool {
	if s.lastHeader.Height < 0 || header.Height != s.lastHeader.Height+1 {
		return false
	}
	if header.PrevBlock.IsEqual(&s.lastHeader.Hash) {
		return false
	}

	rewindTo := header.Height - s.rewindDepth
	if rewindTo < 0 {
		rewindTo = 0
	}

	logger.WarnContext(ctx, "Detected chain reorganization, rewinding resume point",
		slogx.String("event", "reorg_detected"),
		slogx.Stringer("current_hash", s.lastHeader.Hash),
		slogx.Stringer("expected_prev_hash", header.PrevBlock),
		slogx.Int64("rewind_to", rewindTo),
	)

	_ = s.processor.ProcessStatus(ctx, &types.Status{Kind: types.StatusReorg, Header: header})

	s.currentHeight = rewindTo
	s.lastHeader = types.BlockHeader{Height: -1}
	return true
}

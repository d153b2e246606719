package posts

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/lo"
	"go.uber.org/ratelimit"

	"github.com/mapfeed/mapfeed-indexer/common/errs"
	"github.com/mapfeed/mapfeed-indexer/core/types"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/config"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/datagateway"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/entity"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
	"github.com/mapfeed/mapfeed-indexer/pkg/resilience"
)

// queueItem is one unit of work for the persistence worker: an assembled
// post or a standalone vote option.
type queueItem struct {
	post   *ParsedPost
	orphan *OrphanOption
}

// pendingBucket holds vote options waiting for their question post to be
// indexed, keyed by application post id in the pending cache. The mutex
// guards against the cache's TTL eviction goroutine reading the fields
// while the persistence worker mutates them.
type pendingBucket struct {
	mu       sync.Mutex
	options  []*OrphanOption
	attached bool
}

// Processor consumes decoded transactions and persists assembled posts.
// Intake and persistence are decoupled by a bounded queue so a slow or
// failing database never blocks stream consumption. A single worker drains
// the queue, which keeps the breaker state and the pending option cache
// under single-writer discipline.
type Processor struct {
	conf     config.ProcessorConfig
	dg       datagateway.PostsDataGateway
	executor *resilience.Executor
	limiter  ratelimit.Limiter
	pending  *expirable.LRU[string, *pendingBucket]

	queue    chan *queueItem
	workerWg sync.WaitGroup
	quitOnce sync.Once
	quit     chan struct{}
}

func NewProcessor(conf config.ProcessorConfig, dg datagateway.PostsDataGateway) *Processor {
	conf = conf.WithDefaults()
	p := &Processor{
		conf:     conf,
		dg:       dg,
		executor: resilience.NewExecutor(conf.Resilience),
		limiter:  ratelimit.New(conf.RateLimit.Tokens, ratelimit.Per(conf.RateLimit.Interval)),
		queue:    make(chan *queueItem, conf.QueueSize),
		quit:     make(chan struct{}),
	}
	p.pending = expirable.NewLRU(conf.PendingOptions.Capacity, p.onPendingEvict, conf.PendingOptions.TTL)
	return p
}

func (p *Processor) Name() string {
	return "posts"
}

// Start launches the persistence worker. Must be called once before the
// streamer begins delivering transactions.
func (p *Processor) Start(ctx context.Context) {
	p.workerWg.Add(1)
	go p.persistenceWorker(logger.WithContext(ctx, slogx.String("worker", "posts-persistence")))
}

func (p *Processor) ResumeHeight(ctx context.Context) (int64, error) {
	height, err := p.dg.GetLatestBlockHeight(ctx)
	if err != nil {
		if errors.Is(err, errs.NotFound) {
			return 0, errors.WithStack(errs.NotFound)
		}
		return 0, errors.Wrap(err, "failed to get latest indexed block height")
	}
	return height, nil
}

// ProcessTx decodes one transaction and enqueues its assembled posts for the
// persistence worker. Duplicate delivery of the same txid is harmless
// because every write downstream is an idempotent upsert.
func (p *Processor) ProcessTx(ctx context.Context, tx *types.Transaction) error {
	result := ParseTransaction(tx)
	if result == nil {
		return nil
	}

	for _, post := range result.Posts {
		if err := p.enqueue(ctx, &queueItem{post: post}); err != nil {
			return errors.Wrapf(err, "failed to enqueue post txid %s", post.TxID)
		}
	}
	for _, orphan := range result.OrphanOptions {
		if err := p.enqueue(ctx, &queueItem{orphan: orphan}); err != nil {
			return errors.Wrapf(err, "failed to enqueue vote option txid %s", orphan.TxID)
		}
	}
	return nil
}

func (p *Processor) enqueue(ctx context.Context, item *queueItem) error {
	if depth := len(p.queue); depth > 0 && depth >= cap(p.queue)*9/10 {
		logger.WarnContext(ctx, "Persistence queue nearly full, storage is falling behind",
			slogx.Int("depth", depth),
			slogx.Int("capacity", cap(p.queue)),
		)
	}
	select {
	case p.queue <- item:
		return nil
	case <-p.quit:
		return errors.WithStack(errs.ClosedResource)
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (p *Processor) ProcessStatus(ctx context.Context, status *types.Status) error {
	switch status.Kind {
	case types.StatusBlockDone:
		logger.DebugContext(ctx, "Block processed",
			slogx.Int64("height", status.Header.Height),
			slogx.Stringer("hash", status.Header.Hash),
		)
	case types.StatusWaiting:
		logger.DebugContext(ctx, "Waiting for new block")
	case types.StatusReorg:
		logger.WarnContext(ctx, "Chain reorganization detected, stream is rewinding",
			slogx.Int64("height", status.Header.Height),
		)
	case types.StatusError:
		logger.ErrorContext(ctx, "Stream reported transport error", slogx.Error(status.Err))
	}
	return nil
}

// Shutdown stops intake, drains the queue within the caller's deadline, then
// stops the worker. In-flight retries complete but no new work is accepted.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.quitOnce.Do(func() {
		close(p.quit)
	})

	done := make(chan struct{})
	go func() {
		p.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "persistence queue did not drain before deadline")
	}
}

// persistenceWorker is the single writer behind the queue. It drains up to
// BatchSize items per cycle and processes them independently so one failed
// post never blocks the rest of the batch.
func (p *Processor) persistenceWorker(ctx context.Context) {
	defer p.workerWg.Done()

	for {
		batch := p.drainBatch()
		if batch == nil {
			return
		}
		if len(batch) == 0 {
			continue
		}
		p.processBatch(ctx, batch)
	}
}

// drainBatch blocks for the first item, then greedily collects up to
// BatchSize without waiting. Returns nil once the queue is closed for intake
// and fully drained.
func (p *Processor) drainBatch() []*queueItem {
	var first *queueItem
	select {
	case first = <-p.queue:
	case <-p.quit:
		select {
		case first = <-p.queue:
		default:
			return nil
		}
	}

	batch := []*queueItem{first}
	for len(batch) < p.conf.BatchSize {
		select {
		case item := <-p.queue:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

func (p *Processor) processBatch(ctx context.Context, batch []*queueItem) {
	start := time.Now()
	var failed int
	for _, item := range batch {
		var (
			err  error
			txid string
		)
		switch {
		case item.post != nil:
			txid = item.post.TxID
			err = p.processPost(ctx, item.post)
		case item.orphan != nil:
			txid = item.orphan.TxID
			err = p.processOrphanOption(ctx, item.orphan)
		}
		if err != nil {
			failed++
			logger.ErrorContext(ctx, "Failed to persist item",
				slogx.String("txid", txid),
				slogx.Error(err),
			)
		}
	}
	if failed > 0 {
		logger.WarnContext(ctx, "Batch completed with failures",
			slogx.Int("total", len(batch)),
			slogx.Int("failed", failed),
			slogx.Duration("duration", time.Since(start)),
		)
	} else {
		logger.DebugContext(ctx, "Batch completed",
			slogx.Int("total", len(batch)),
			slogx.Duration("duration", time.Since(start)),
		)
	}
}

// processPost runs the full pipeline for one assembled post: validate,
// sanitize, rate limit, persist, then attach any options that were queued
// waiting for this post.
func (p *Processor) processPost(ctx context.Context, post *ParsedPost) error {
	if err := ValidatePost(post); err != nil {
		logger.WarnContext(ctx, "Rejected invalid post",
			slogx.String("txid", post.TxID),
			slogx.Error(err),
		)
		return nil
	}
	if post.VoteErr != nil {
		logger.WarnContext(ctx, "Vote rejected, persisting post without it",
			slogx.String("txid", post.TxID),
			slogx.Error(post.VoteErr),
		)
	}
	SanitizePost(post, p.conf.MaxContentLength)

	p.limiter.Take()

	record := mapParsedPost(post)
	if err := p.executor.Do(ctx, "upsert_post", func(ctx context.Context) error {
		return p.dg.UpsertPost(ctx, record)
	}); err != nil {
		return errors.Wrap(err, "failed to upsert post")
	}

	if post.Vote != nil {
		for _, option := range post.Vote.Options {
			if err := p.persistVoteOption(ctx, &entity.VoteOption{
				TxID:           post.TxID,
				PostTxID:       post.TxID,
				Content:        option.Text,
				OptionIndex:    option.Index,
				LockAmount:     option.LockAmount,
				LockDuration:   option.LockDuration,
				LockPercentage: option.LockPercentage,
			}); err != nil {
				return errors.Wrapf(err, "failed to upsert vote option %d", option.Index)
			}
		}
	}

	if err := p.attachPendingOptions(ctx, post.PostID, post.TxID); err != nil {
		return errors.Wrap(err, "failed to attach pending vote options")
	}
	return nil
}

// processOrphanOption attaches a standalone vote option to its post when the
// post is already indexed, otherwise parks it in the pending cache.
func (p *Processor) processOrphanOption(ctx context.Context, orphan *OrphanOption) error {
	if err := ValidateOrphanOption(orphan); err != nil {
		logger.WarnContext(ctx, "Rejected invalid vote option",
			slogx.String("txid", orphan.TxID),
			slogx.Error(err),
		)
		return nil
	}

	parent, err := p.dg.GetPostByPostID(ctx, orphan.PostID)
	if err != nil {
		if errors.Is(err, errs.NotFound) {
			p.enqueuePending(ctx, orphan)
			return nil
		}
		return errors.Wrap(err, "failed to look up parent post")
	}

	p.limiter.Take()
	return p.attachOption(ctx, parent.TxID, orphan)
}

func (p *Processor) enqueuePending(ctx context.Context, orphan *OrphanOption) {
	bucket, ok := p.pending.Get(orphan.PostID)
	if !ok {
		bucket = &pendingBucket{}
	}
	bucket.mu.Lock()
	bucket.options = append(bucket.options, orphan)
	bucket.mu.Unlock()
	p.pending.Add(orphan.PostID, bucket)
	logger.InfoContext(ctx, "Vote option queued waiting for parent post",
		slogx.String("txid", orphan.TxID),
		slogx.String("post_id", orphan.PostID),
		slogx.Int64("option_index", orphan.Index),
	)
}

// attachPendingOptions flushes options that arrived before their post.
// Options whose attach fails go back into the pending cache so a later
// replay of the post can pick them up again.
func (p *Processor) attachPendingOptions(ctx context.Context, postID string, postTxID string) error {
	bucket, ok := p.pending.Get(postID)
	if !ok {
		return nil
	}
	bucket.mu.Lock()
	bucket.attached = true
	options := bucket.options
	bucket.options = nil
	bucket.mu.Unlock()
	p.pending.Remove(postID)
	if len(options) == 0 {
		return nil
	}

	var (
		errsFound []error
		failed    []*OrphanOption
	)
	for _, orphan := range options {
		if err := p.attachOption(ctx, postTxID, orphan); err != nil {
			errsFound = append(errsFound, errors.Wrapf(err, "option txid %s", orphan.TxID))
			failed = append(failed, orphan)
			continue
		}
		logger.InfoContext(ctx, "Queued vote option attached",
			slogx.String("txid", orphan.TxID),
			slogx.String("post_id", postID),
			slogx.Int64("option_index", orphan.Index),
		)
	}
	if len(failed) > 0 {
		p.requeuePending(postID, failed)
	}
	if len(errsFound) > 0 {
		return errors.Join(errsFound...)
	}
	return nil
}

// requeuePending puts options back after a failed attach. The bucket taken
// out in attachPendingOptions is gone from the cache, so this usually
// creates a fresh one.
func (p *Processor) requeuePending(postID string, options []*OrphanOption) {
	bucket, ok := p.pending.Get(postID)
	if !ok {
		bucket = &pendingBucket{}
	}
	bucket.mu.Lock()
	bucket.options = append(options, bucket.options...)
	bucket.mu.Unlock()
	p.pending.Add(postID, bucket)
}

func (p *Processor) attachOption(ctx context.Context, postTxID string, orphan *OrphanOption) error {
	option := &entity.VoteOption{
		TxID:         orphan.TxID,
		PostTxID:     postTxID,
		Content:      orphan.Text,
		OptionIndex:  orphan.Index,
		LockAmount:   orphan.LockAmount,
		LockDuration: orphan.LockDuration,
	}
	if err := p.persistVoteOption(ctx, option); err != nil {
		return err
	}
	// Lock shares shift every time an option with a lock lands.
	if err := p.executor.Do(ctx, "recalculate_lock_percentages", func(ctx context.Context) error {
		return p.dg.RecalculateLockPercentages(ctx, postTxID)
	}); err != nil {
		return errors.Wrap(err, "failed to recalculate lock percentages")
	}
	return nil
}

func (p *Processor) persistVoteOption(ctx context.Context, option *entity.VoteOption) error {
	if err := p.executor.Do(ctx, "upsert_vote_option", func(ctx context.Context) error {
		return p.dg.UpsertVoteOption(ctx, option)
	}); err != nil {
		return errors.Wrap(err, "failed to upsert vote option")
	}
	return nil
}

// onPendingEvict fires when a pending bucket ages out or is displaced.
// Options whose parent never arrived expire with a warning, they are not
// silently lost.
func (p *Processor) onPendingEvict(postID string, bucket *pendingBucket) {
	bucket.mu.Lock()
	attached := bucket.attached
	count := len(bucket.options)
	bucket.mu.Unlock()
	if attached || count == 0 {
		return
	}
	logger.Warn("Pending vote options expired, parent post never arrived",
		slogx.String("post_id", postID),
		slogx.Int("count", count),
	)
}

// mapParsedPost flattens an assembled post into its persisted shape. Only
// the first validated image is stored inline.
func mapParsedPost(post *ParsedPost) *entity.Post {
	record := &entity.Post{
		TxID:          post.TxID,
		PostID:        post.PostID,
		Content:       post.Content.Text,
		Title:         post.Content.Title,
		Description:   post.Content.Description,
		AuthorAddress: post.Author,
		BlockHeight:   post.BlockHeight,
		CreatedAt:     post.Timestamp,
		Tags:          post.Tags,
	}
	if len(post.Images) > 0 {
		record.MediaType = post.Images[0].ContentType
		record.RawImageData = post.Images[0].Base64Data
	}
	if post.Vote != nil {
		record.IsVote = true
		record.VoteQuestion = post.Vote.Question
		record.TotalOptions = post.Vote.TotalOptions
		record.OptionsHash = lo.Ternary(post.Vote.OptionsHash != "", post.Vote.OptionsHash, ComputeOptionsHash(post.Vote.Options))
	}
	if post.Lock != nil {
		record.IsLocked = post.Lock.IsLocked
		record.LockAmount = post.Lock.Amount
		record.LockDuration = post.Lock.Duration
		record.UnlockHeight = post.Lock.UnlockHeight
	}
	return record
}

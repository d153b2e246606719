package posts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapfeed/mapfeed-indexer/common/errs"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/config"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/entity"
	"github.com/mapfeed/mapfeed-indexer/pkg/resilience"
)

// fakeGateway is an in-memory PostsDataGateway with failure injection.
type fakeGateway struct {
	mu          sync.Mutex
	posts       map[string]*entity.Post
	options     map[string]*entity.VoteOption
	upsertCalls int
	recalcCalls int

	failTxID string
	failErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		posts:   make(map[string]*entity.Post),
		options: make(map[string]*entity.VoteOption),
	}
}

func (g *fakeGateway) UpsertPost(_ context.Context, post *entity.Post) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertCalls++
	if g.failErr != nil && (g.failTxID == "" || g.failTxID == post.TxID) {
		return g.failErr
	}
	clone := *post
	g.posts[post.TxID] = &clone
	return nil
}

func (g *fakeGateway) UpsertVoteOption(_ context.Context, option *entity.VoteOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil && g.failTxID == option.TxID {
		return g.failErr
	}
	clone := *option
	g.options[option.TxID] = &clone
	return nil
}

func (g *fakeGateway) GetPostByTxID(_ context.Context, txid string) (*entity.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	post, ok := g.posts[txid]
	if !ok {
		return nil, errors.WithStack(errs.NotFound)
	}
	return post, nil
}

func (g *fakeGateway) GetPostByPostID(_ context.Context, postID string) (*entity.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, post := range g.posts {
		if post.PostID == postID {
			return post, nil
		}
	}
	return nil, errors.WithStack(errs.NotFound)
}

func (g *fakeGateway) GetLatestBlockHeight(_ context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var height int64 = -1
	for _, post := range g.posts {
		if post.BlockHeight > height {
			height = post.BlockHeight
		}
	}
	if height < 0 {
		return 0, errors.WithStack(errs.NotFound)
	}
	return height, nil
}

func (g *fakeGateway) GetVoteOptionsByPostTxID(_ context.Context, postTxID string) ([]*entity.VoteOption, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var result []*entity.VoteOption
	for _, option := range g.options {
		if option.PostTxID == postTxID {
			result = append(result, option)
		}
	}
	return result, nil
}

func (g *fakeGateway) RecalculateLockPercentages(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recalcCalls++
	return nil
}

func (g *fakeGateway) DeleteAllPosts(_ context.Context) error       { return nil }
func (g *fakeGateway) DeleteAllVoteOptions(_ context.Context) error { return nil }

func (g *fakeGateway) postCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.posts)
}

func testProcessorConfig() config.ProcessorConfig {
	return config.ProcessorConfig{
		BatchSize:        10,
		QueueSize:        100,
		MaxContentLength: 1024,
		Resilience: resilience.Config{
			MaxAttempts:      1,
			InitialDelay:     time.Millisecond,
			FailureThreshold: 2,
			ResetTimeout:     time.Minute,
		},
		RateLimit:      config.RateLimitConfig{Tokens: 100000, Interval: time.Second},
		PendingOptions: config.PendingOptionsConfig{Capacity: 100, TTL: time.Minute},
	}
}

func validPost(txid, postID string) *ParsedPost {
	return &ParsedPost{
		TxID:        testTxID(txid),
		PostID:      postID,
		BlockHeight: 800000,
		Timestamp:   time.Unix(1700000000, 0).UTC(),
		Content:     PostContent{Text: "Hello"},
	}
}

func TestProcessorIdempotency(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	p := NewProcessor(testProcessorConfig(), gateway)

	post := validPost("a1", "p1")
	require.NoError(t, p.processPost(ctx, post))
	first := *gateway.posts[post.TxID]

	require.NoError(t, p.processPost(ctx, validPost("a1", "p1")))
	assert.Equal(t, 1, gateway.postCount())
	assert.Equal(t, first, *gateway.posts[post.TxID])
}

func TestProcessorValidationRejection(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	p := NewProcessor(testProcessorConfig(), gateway)

	invalid := validPost("b1", "p1")
	invalid.TxID = "not-a-txid"

	// rejected posts are logged, not surfaced as errors, and never persisted
	require.NoError(t, p.processPost(ctx, invalid))
	assert.Zero(t, gateway.postCount())
	assert.Zero(t, gateway.upsertCalls)
}

func TestProcessorDependencyOrdering(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	p := NewProcessor(testProcessorConfig(), gateway)

	orphan := &OrphanOption{
		PostID:     "p1",
		TxID:       testTxID("c2"),
		Text:       "Yes",
		Index:      0,
		LockAmount: 100,
	}
	require.NoError(t, p.processOrphanOption(ctx, orphan))
	assert.Empty(t, gateway.options, "option must wait for its parent")
	assert.Equal(t, 1, p.pending.Len())

	question := validPost("c1", "p1")
	require.NoError(t, p.processPost(ctx, question))

	require.Contains(t, gateway.options, orphan.TxID)
	attached := gateway.options[orphan.TxID]
	assert.Equal(t, question.TxID, attached.PostTxID)
	assert.Equal(t, 0, p.pending.Len())
	assert.Positive(t, gateway.recalcCalls)
}

func TestProcessorOrphanWithKnownParent(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	p := NewProcessor(testProcessorConfig(), gateway)

	require.NoError(t, p.processPost(ctx, validPost("d1", "p1")))

	orphan := &OrphanOption{PostID: "p1", TxID: testTxID("d2"), Text: "Yes", Index: 0}
	require.NoError(t, p.processOrphanOption(ctx, orphan))
	require.Contains(t, gateway.options, orphan.TxID)
	assert.Equal(t, testTxID("d1"), gateway.options[orphan.TxID].PostTxID)
	assert.Zero(t, p.pending.Len())
}

func TestProcessorPendingEviction(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	conf := testProcessorConfig()
	conf.PendingOptions.Capacity = 1
	p := NewProcessor(conf, gateway)

	require.NoError(t, p.processOrphanOption(ctx, &OrphanOption{PostID: "p1", TxID: testTxID("e1"), Index: 0}))
	require.NoError(t, p.processOrphanOption(ctx, &OrphanOption{PostID: "p2", TxID: testTxID("e2"), Index: 0}))

	// oldest bucket is displaced, not silently kept forever
	assert.Equal(t, 1, p.pending.Len())
	_, ok := p.pending.Get("p1")
	assert.False(t, ok)
}

func TestProcessorPendingAttachFailureRequeues(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	p := NewProcessor(testProcessorConfig(), gateway)

	orphan := &OrphanOption{PostID: "p1", TxID: testTxID("e3"), Text: "Yes", Index: 0}
	require.NoError(t, p.processOrphanOption(ctx, orphan))
	require.Equal(t, 1, p.pending.Len())

	// storage drops the option upsert while the post itself lands
	gateway.failErr = errors.New("storage down")
	gateway.failTxID = orphan.TxID
	require.Error(t, p.processPost(ctx, validPost("e4", "p1")))
	require.Contains(t, gateway.posts, testTxID("e4"))
	assert.NotContains(t, gateway.options, orphan.TxID)
	assert.Equal(t, 1, p.pending.Len(), "failed attach must keep the option queued")

	// a replay of the post attaches the requeued option once storage recovers
	gateway.failErr = nil
	gateway.failTxID = ""
	require.NoError(t, p.processPost(ctx, validPost("e4", "p1")))
	require.Contains(t, gateway.options, orphan.TxID)
	assert.Equal(t, testTxID("e4"), gateway.options[orphan.TxID].PostTxID)
	assert.Zero(t, p.pending.Len())
}

func TestProcessorPendingBucketConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	p := NewProcessor(testProcessorConfig(), newFakeGateway())

	p.enqueuePending(ctx, &OrphanOption{PostID: "p1", TxID: testTxID("e5"), Index: 0})
	bucket, ok := p.pending.Get("p1")
	require.True(t, ok)

	// the eviction callback runs on the cache's TTL goroutine, mutations on
	// the worker; the bucket lock must keep them apart
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			p.onPendingEvict("p1", bucket)
		}
	}()
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 50; i++ {
			p.enqueuePending(ctx, &OrphanOption{PostID: "p1", TxID: testTxID("e5"), Index: i})
		}
	}()
	wg.Wait()

	bucket.mu.Lock()
	assert.Len(t, bucket.options, 51)
	bucket.mu.Unlock()
}

func TestProcessorBatchIsolation(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	gateway.failErr = errors.New("storage down")
	gateway.failTxID = testTxID("f2")
	p := NewProcessor(testProcessorConfig(), gateway)

	batch := []*queueItem{
		{post: validPost("f1", "p1")},
		{post: validPost("f2", "p2")},
		{post: validPost("f3", "p3")},
	}
	p.processBatch(ctx, batch)

	assert.Contains(t, gateway.posts, testTxID("f1"))
	assert.NotContains(t, gateway.posts, testTxID("f2"))
	assert.Contains(t, gateway.posts, testTxID("f3"))
}

func TestProcessorCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	gateway.failErr = errors.New("storage down")
	p := NewProcessor(testProcessorConfig(), gateway)

	// threshold is 2, each post consumes one attempt
	require.Error(t, p.processPost(ctx, validPost("a1", "p1")))
	require.Error(t, p.processPost(ctx, validPost("a2", "p2")))

	callsBefore := gateway.upsertCalls
	err := p.processPost(ctx, validPost("a3", "p3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, callsBefore, gateway.upsertCalls, "open breaker must not touch the gateway")
}

func TestProcessorResumeHeight(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	p := NewProcessor(testProcessorConfig(), gateway)

	_, err := p.ResumeHeight(ctx)
	assert.ErrorIs(t, err, errs.NotFound)

	require.NoError(t, p.processPost(ctx, validPost("a1", "p1")))
	height, err := p.ResumeHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(800000), height)
}

func TestProcessorEndToEnd(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway()
	p := NewProcessor(testProcessorConfig(), gateway)
	p.Start(ctx)

	tx := makeTx(t, testTxID("9a"), 800000,
		mapOutput(t, "type", "content", "post_id", "p1", "sequence", "0", "content", "Hello"),
	)
	require.NoError(t, p.ProcessTx(ctx, tx))

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))

	require.Contains(t, gateway.posts, testTxID("9a"))
	assert.Equal(t, "Hello", gateway.posts[testTxID("9a")].Content)
}

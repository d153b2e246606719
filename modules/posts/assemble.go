package posts

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/mapfeed/mapfeed-indexer/core/types"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/protocol"
)

// PostContent is the free-text portion of a post.
type PostContent struct {
	Title       string
	Description string
	Text        string
}

// PostLock describes coins committed to a post.
type PostLock struct {
	IsLocked     bool
	Duration     int64
	Amount       int64
	UnlockHeight int64
}

// OrphanOption is a vote_option component arriving in a transaction that
// carries no question for it. It references its post by application post id
// and is attached by the processor once the question is known.
type OrphanOption struct {
	PostID       string
	TxID         string
	Text         string
	Index        int64
	LockAmount   int64
	LockDuration int64
	BlockHeight  int64
}

// ParsedPost is one logical post assembled from every component of a single
// transaction sharing a post id. Immutable after assembly.
type ParsedPost struct {
	PostID      string
	TxID        string
	Author      string
	Timestamp   time.Time
	BlockHeight int64
	Content     PostContent
	Images      []ImagePayload
	Vote        *VoteAggregate
	Tags        []string
	Lock        *PostLock

	// VoteErr records a rejected vote (hash mismatch, duplicate index).
	// The post itself is still persisted, just without the vote.
	VoteErr error
}

// ParseResult is everything decoded out of one transaction: zero or more
// assembled posts plus any vote options whose question lives in a different
// transaction.
type ParseResult struct {
	Posts         []*ParsedPost
	OrphanOptions []*OrphanOption
}

// ParseTransaction decodes every output of the transaction, classifies the
// results, and groups components by post id into assembled posts. Vote
// options without an in-transaction question become orphan options instead
// of posts. Returns nil when the transaction carries no recognizable data.
func ParseTransaction(tx *types.Transaction) *ParseResult {
	var components []*protocol.Component
	for _, script := range tx.OutputScripts {
		fields, ok := protocol.DecodeOutput(script)
		if !ok {
			continue
		}
		component, ok := protocol.Classify(fields)
		if !ok {
			continue
		}
		components = append(components, component)
	}
	if len(components) == 0 {
		return nil
	}

	result := &ParseResult{}
	grouped := lo.GroupBy(components, func(c *protocol.Component) string { return c.PostID })

	// Deterministic post order within one transaction.
	postIDs := lo.Keys(grouped)
	sort.Strings(postIDs)

	for _, postID := range postIDs {
		group := grouped[postID]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Sequence < group[j].Sequence })

		if post, ok := assemblePost(tx, postID, group); ok {
			result.Posts = append(result.Posts, post)
			continue
		}
		result.OrphanOptions = append(result.OrphanOptions, orphanOptions(tx, postID, group)...)
	}
	if len(result.Posts) == 0 && len(result.OrphanOptions) == 0 {
		return nil
	}
	return result
}

// assemblePost builds one ParsedPost from a post id's component group.
// Returns ok=false when the group holds nothing but parentless vote options,
// which must be queued rather than persisted as a post.
func assemblePost(tx *types.Transaction, postID string, group []*protocol.Component) (*ParsedPost, bool) {
	var (
		anchored bool
		question *protocol.Component
		options  []*protocol.Component
	)
	for _, component := range group {
		switch component.Type {
		case protocol.TypeVoteOption:
			options = append(options, component)
		case protocol.TypeVoteQuestion:
			question = component
			anchored = true
		default:
			anchored = true
		}
	}
	if !anchored {
		return nil, false
	}

	post := &ParsedPost{
		PostID:      postID,
		TxID:        tx.TxID,
		Author:      firstAddress(tx),
		Timestamp:   timestampOf(tx),
		BlockHeight: tx.BlockHeight,
	}

	for _, component := range group {
		switch component.Type {
		case protocol.TypeContent:
			applyContent(post, component)
		case protocol.TypeImage:
			if image := ExtractImage(component.Raw); image != nil {
				post.Images = append(post.Images, *image)
			}
		case protocol.TypeTags:
			post.Tags = lo.Uniq(append(post.Tags, component.Fields.List("tags")...))
		}
		// Lock declarations may ride on any component of the post.
		applyLock(post, component)
	}

	if question != nil {
		vote, err := AssembleVote(question, options)
		if err != nil {
			post.VoteErr = err
			if post.Content.Text == "" {
				post.Content.Text = question.Fields.Str("question")
			}
		} else {
			post.Vote = vote
			if post.Content.Text == "" {
				post.Content.Text = vote.Question
			}
		}
	}

	return post, true
}

func applyContent(post *ParsedPost, component *protocol.Component) {
	fields := component.Fields
	if text := fields.Str("content"); text != "" && post.Content.Text == "" {
		post.Content.Text = text
	}
	if title := fields.Str("title"); title != "" && post.Content.Title == "" {
		post.Content.Title = title
	}
	if description := fields.Str("description"); description != "" && post.Content.Description == "" {
		post.Content.Description = description
	}
	if fields.Has("tags") {
		post.Tags = lo.Uniq(append(post.Tags, fields.List("tags")...))
	}
}

func applyLock(post *ParsedPost, component *protocol.Component) {
	fields := component.Fields
	if !fields.Bool("is_locked") {
		return
	}
	lock := &PostLock{
		IsLocked: true,
		Duration: fields.Int("lock_duration"),
		Amount:   fields.Int("lock_amount"),
	}
	if post.BlockHeight >= 0 && lock.Duration > 0 {
		lock.UnlockHeight = post.BlockHeight + lock.Duration
	}
	post.Lock = lock
}

func orphanOptions(tx *types.Transaction, postID string, group []*protocol.Component) []*OrphanOption {
	var orphans []*OrphanOption
	for _, component := range group {
		if component.Type != protocol.TypeVoteOption {
			continue
		}
		orphans = append(orphans, &OrphanOption{
			PostID:       postID,
			TxID:         tx.TxID,
			Text:         component.Fields.Str("content"),
			Index:        component.Fields.Int("option_index"),
			LockAmount:   component.Fields.Int("lock_amount"),
			LockDuration: component.Fields.Int("lock_duration"),
			BlockHeight:  tx.BlockHeight,
		})
	}
	return orphans
}

func firstAddress(tx *types.Transaction) string {
	if len(tx.Addresses) == 0 {
		return ""
	}
	return tx.Addresses[0]
}

func timestampOf(tx *types.Transaction) time.Time {
	if tx.BlockTime.IsZero() {
		return time.Now().UTC()
	}
	return tx.BlockTime
}

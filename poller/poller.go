// Package poller drives the review dialogue engine: each cycle it
// expires idle rounds, fetches unseen replies, applies the parsed
// commands through the store, and dispatches the resulting actions to
// collaborators.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"content-review-bot/command"
	"content-review-bot/review"
)

// InboundMessage is one reply fetched from the inbound transport.
type InboundMessage struct {
	ID        string
	ThreadRef string
	Body      string
	Timestamp time.Time
}

// Inbox fetches inbound replies correlated to known review threads.
type Inbox interface {
	FetchUnseen(ctx context.Context, threadRefs []string) ([]InboundMessage, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// Notifier delivers outbound review messages. SendReviewRequest
// returns the thread reference inbound replies will carry.
type Notifier interface {
	SendReviewRequest(ctx context.Context, item *review.Item) (threadRef string, err error)
	SendDiscussionReply(ctx context.Context, item *review.Item, message string) error
	SendNotice(ctx context.Context, item *review.Item, kind review.NoticeKind) error
}

// Publisher publishes an approved candidate.
type Publisher interface {
	Publish(ctx context.Context, topic string, c review.Candidate) error
}

// Generator produces revised or regenerated candidates and composes
// discussion replies.
type Generator interface {
	Regenerate(ctx context.Context, topic, brief string) ([]review.Candidate, error)
	Revise(ctx context.Context, c review.Candidate, instructions string) (review.Candidate, error)
	Discuss(ctx context.Context, topic, message string) (string, error)
}

// Store provides durable review state and the engine's dedupe and
// dispatch ledgers.
type Store interface {
	Get(ctx context.Context, id string) (*review.Item, error)
	Create(ctx context.Context, item *review.Item) error
	ListOpen(ctx context.Context) ([]*review.Item, error)
	Apply(ctx context.Context, id string, fn func(*review.Item) error) (*review.Item, error)
	SeenMessage(ctx context.Context, messageID string) (bool, error)
	RecordSeen(ctx context.Context, messageID, threadRef string) error
	WasDispatched(ctx context.Context, reviewID string, seq int) (bool, error)
	RecordDispatch(ctx context.Context, reviewID string, seq int) error
}

// Clock abstracts time for virtual-clock tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

const (
	defaultTTL                = 72 * time.Hour
	defaultMaxPublishRetries  = 3
	defaultMaxGenerateRetries = 3
)

// Poller owns one engine instance.
type Poller struct {
	store     Store
	inbox     Inbox
	notifier  Notifier
	publisher Publisher
	generator Generator
	parser    *command.Parser

	clock              Clock
	ttl                time.Duration
	maxPublishRetries  int
	maxGenerateRetries int
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock injects a clock (for tests).
func WithClock(c Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithTTL sets the idle time-to-live after which an unanswered round
// expires.
func WithTTL(d time.Duration) Option {
	return func(p *Poller) {
		p.ttl = d
	}
}

// WithMaxPublishRetries bounds automatic publish retries before the
// failure is surfaced to the reviewer.
func WithMaxPublishRetries(n int) Option {
	return func(p *Poller) {
		p.maxPublishRetries = n
	}
}

// WithMaxGenerateRetries bounds automatic revision and regeneration
// retries before the failure is surfaced to the reviewer.
func WithMaxGenerateRetries(n int) Option {
	return func(p *Poller) {
		p.maxGenerateRetries = n
	}
}

// WithParser overrides the command parser (custom token sets).
func WithParser(parser *command.Parser) Option {
	return func(p *Poller) {
		p.parser = parser
	}
}

// NewPoller creates an engine over the given collaborators.
func NewPoller(store Store, inbox Inbox, notifier Notifier, publisher Publisher, generator Generator, opts ...Option) *Poller {
	p := &Poller{
		store:              store,
		inbox:              inbox,
		notifier:           notifier,
		publisher:          publisher,
		generator:          generator,
		parser:             command.NewParser(),
		clock:              systemClock{},
		ttl:                defaultTTL,
		maxPublishRetries:  defaultMaxPublishRetries,
		maxGenerateRetries: defaultMaxGenerateRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle executes one poll cycle. Cycle boundaries are explicit so
// ordering and idempotence are testable without wall-clock waits.
func (p *Poller) RunCycle(ctx context.Context) error {
	open, err := p.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open reviews: %w", err)
	}

	open = p.expireIdle(ctx, open)
	p.resendRequests(ctx, open)

	if err := p.processReplies(ctx, open); err != nil {
		slog.Warn("reply processing incomplete", "error", err)
	}

	p.runGenerations(ctx)
	p.runPublishes(ctx)
	return nil
}

// resendRequests (re)sends the review request for open rounds whose
// thread reference never got bound, so a failed send is retried each
// cycle instead of the round silently idling to expiry.
func (p *Poller) resendRequests(ctx context.Context, open []*review.Item) {
	for _, item := range open {
		if item.ThreadRef != "" || item.Status != review.StatusPending {
			continue
		}
		ref, err := p.notifier.SendReviewRequest(ctx, item)
		if err != nil {
			slog.Warn("failed to send review request", "id", item.ID, "error", err)
			continue
		}
		if _, err := p.store.Apply(ctx, item.ID, func(it *review.Item) error {
			it.ThreadRef = ref
			return nil
		}); err != nil {
			slog.Warn("failed to bind thread ref", "id", item.ID, "error", err)
			continue
		}
		item.ThreadRef = ref
		slog.Info("review request sent", "id", item.ID, "thread_ref", ref)
	}
}

// expireIdle transitions pending/discussing rounds past the TTL to
// expired and returns the still-open remainder.
func (p *Poller) expireIdle(ctx context.Context, open []*review.Item) []*review.Item {
	now := p.clock.Now()
	var kept []*review.Item
	for _, item := range open {
		if (item.Status == review.StatusPending || item.Status == review.StatusDiscussing) &&
			now.Sub(item.UpdatedAt) >= p.ttl {
			_, err := p.store.Apply(ctx, item.ID, func(it *review.Item) error {
				return it.ApplyEvent(review.EventExpired, now)
			})
			if err != nil {
				slog.Warn("failed to expire review", "id", item.ID, "error", err)
				kept = append(kept, item)
				continue
			}
			slog.Info("review expired", "id", item.ID, "topic", item.Topic)
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func (p *Poller) processReplies(ctx context.Context, open []*review.Item) error {
	byRef := make(map[string]string, len(open))
	refs := make([]string, 0, len(open))
	for _, item := range open {
		if item.ThreadRef == "" {
			continue
		}
		byRef[item.ThreadRef] = item.ID
		refs = append(refs, item.ThreadRef)
	}
	if len(refs) == 0 {
		return nil
	}

	msgs, err := p.inbox.FetchUnseen(ctx, refs)
	if err != nil {
		return fmt.Errorf("fetch unseen messages: %w", err)
	}

	// Commands for the same round apply in message receive order.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})

	for _, msg := range msgs {
		if err := p.processMessage(ctx, byRef, msg); err != nil {
			slog.Warn("failed to process message", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (p *Poller) processMessage(ctx context.Context, byRef map[string]string, msg InboundMessage) error {
	seen, err := p.store.SeenMessage(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("check seen: %w", err)
	}
	if seen {
		// Duplicate delivery: acknowledge, never re-apply.
		return p.inbox.MarkSeen(ctx, msg.ID)
	}

	id, ok := byRef[msg.ThreadRef]
	if !ok {
		slog.Info("reply for unknown thread", "message_id", msg.ID, "thread_ref", msg.ThreadRef)
		return p.inbox.MarkSeen(ctx, msg.ID)
	}

	cmd := p.parser.Parse(msg.Body)
	slog.Info("parsed reply", "id", id, "message_id", msg.ID, "kind", cmd.Kind)

	var action review.Action
	updated, err := p.store.Apply(ctx, id, func(it *review.Item) error {
		action = it.Apply(cmd, p.clock.Now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply command: %w", err)
	}

	if err := p.store.RecordSeen(ctx, msg.ID, msg.ThreadRef); err != nil {
		return fmt.Errorf("record seen: %w", err)
	}
	if err := p.inbox.MarkSeen(ctx, msg.ID); err != nil {
		slog.Warn("failed to mark message seen", "message_id", msg.ID, "error", err)
	}

	p.dispatch(ctx, updated, action)
	return nil
}

// dispatch executes one send-type action at most once, keyed by item
// id plus the history sequence of the transition that produced it.
// Round work (publish, revise, regenerate) is driven by status in
// runPublishes and runGenerations instead, so a failed attempt is
// retried on later cycles rather than lost with its ledger entry.
func (p *Poller) dispatch(ctx context.Context, item *review.Item, action review.Action) {
	switch a := action.(type) {
	case nil:
		return
	case review.PublishCandidate, review.ReviseCandidate, review.RegenerateRound:
		return
	case review.DiscussionReply:
		if !p.claimDispatch(ctx, item) {
			return
		}
		p.sendDiscussionReply(ctx, item, a.Message)
	case review.Notice:
		if !p.claimDispatch(ctx, item) {
			return
		}
		if err := p.notifier.SendNotice(ctx, item, a.Kind); err != nil {
			slog.Warn("failed to send notice", "id", item.ID, "kind", a.Kind, "error", err)
		}
	}
}

func (p *Poller) claimDispatch(ctx context.Context, item *review.Item) bool {
	seq := len(item.History) - 1
	dispatched, err := p.store.WasDispatched(ctx, item.ID, seq)
	if err != nil {
		slog.Warn("dispatch ledger check failed", "id", item.ID, "seq", seq, "error", err)
		return false
	}
	if dispatched {
		return false
	}
	if err := p.store.RecordDispatch(ctx, item.ID, seq); err != nil {
		slog.Warn("failed to record dispatch", "id", item.ID, "seq", seq, "error", err)
		return false
	}
	return true
}

// runGenerations drives revision and regeneration for rounds whose
// successor has not been produced yet. Failures are recorded and
// retried on later cycles; exhausting the budget surfaces a notice
// and reopens the round so a fresh command can land.
func (p *Poller) runGenerations(ctx context.Context) {
	open, err := p.store.ListOpen(ctx)
	if err != nil {
		slog.Warn("failed to list reviews for generation", "error", err)
		return
	}

	for _, item := range open {
		if item.Status != review.StatusModifying && item.Status != review.StatusRegenerating {
			continue
		}
		if item.GenerateRetries >= p.maxGenerateRetries {
			continue
		}
		p.attemptGeneration(ctx, item)
	}
}

func (p *Poller) attemptGeneration(ctx context.Context, item *review.Item) {
	candidates, err := p.successorCandidates(ctx, item)
	if err == nil {
		p.startRound(ctx, item, candidates)
		return
	}
	slog.Warn("candidate generation failed", "id", item.ID, "status", item.Status, "error", err)

	now := p.clock.Now()
	updated, applyErr := p.store.Apply(ctx, item.ID, func(it *review.Item) error {
		return it.ApplyEvent(review.EventGenerateFailed, now)
	})
	if applyErr != nil {
		slog.Warn("failed to record generation failure", "id", item.ID, "error", applyErr)
		return
	}
	if updated.GenerateRetries < p.maxGenerateRetries {
		return
	}

	if err := p.notifier.SendNotice(ctx, updated, review.NoticeGenerateFailed); err != nil {
		slog.Warn("failed to send generation-failed notice", "id", item.ID, "error", err)
	}
	if _, err := p.store.Apply(ctx, item.ID, func(it *review.Item) error {
		return it.ApplyEvent(review.EventGenerateAborted, now)
	}); err != nil {
		slog.Warn("failed to reopen round after generation failure", "id", item.ID, "error", err)
	}
}

// successorCandidates recovers the in-flight revision or regeneration
// request from the round's history and produces the replacement
// candidate set.
func (p *Poller) successorCandidates(ctx context.Context, item *review.Item) ([]review.Candidate, error) {
	cmd := item.LastCommand()
	switch item.Status {
	case review.StatusModifying:
		if cmd == nil || cmd.Kind != command.KindModify {
			return nil, fmt.Errorf("no modify command in history of %s", item.ID)
		}
		cand, ok := item.Candidate(cmd.Index)
		if !ok {
			return nil, fmt.Errorf("revision target %d out of range", cmd.Index)
		}
		revised, err := p.generator.Revise(ctx, cand, cmd.Instructions)
		if err != nil {
			return nil, err
		}
		revised.Index = 1
		return []review.Candidate{revised}, nil
	case review.StatusRegenerating:
		var brief string
		if cmd != nil && cmd.Kind == command.KindRegenerate {
			brief = cmd.Brief
		}
		return p.generator.Regenerate(ctx, item.Topic, brief)
	}
	return nil, fmt.Errorf("no generation pending in status %q", item.Status)
}

// startRound creates the replacement pending round, sends its review
// request, binds the thread reference, and supersedes the old item.
func (p *Poller) startRound(ctx context.Context, prev *review.Item, candidates []review.Candidate) {
	now := p.clock.Now()
	next := review.NewRound(prev, candidates, now)

	if err := p.store.Create(ctx, next); err != nil {
		slog.Warn("failed to create new round", "prev", prev.ID, "error", err)
		return
	}

	ref, err := p.notifier.SendReviewRequest(ctx, next)
	if err != nil {
		slog.Warn("failed to send review request", "id", next.ID, "error", err)
	} else {
		_, err = p.store.Apply(ctx, next.ID, func(it *review.Item) error {
			it.ThreadRef = ref
			return nil
		})
		if err != nil {
			slog.Warn("failed to bind thread ref", "id", next.ID, "error", err)
		}
	}

	_, err = p.store.Apply(ctx, prev.ID, func(it *review.Item) error {
		return it.ApplyEvent(review.EventSuperseded, now)
	})
	if err != nil {
		slog.Warn("failed to supersede old round", "id", prev.ID, "error", err)
	}

	slog.Info("started new review round", "prev", prev.ID, "next", next.ID, "candidates", len(candidates))
}

func (p *Poller) sendDiscussionReply(ctx context.Context, item *review.Item, message string) {
	reply, err := p.generator.Discuss(ctx, item.Topic, message)
	if err != nil {
		slog.Warn("discussion reply generation failed", "id", item.ID, "error", err)
		reply = "已收到你的意见，稍后详细回复。也可以直接回复审核指令（选/修改/重新生成/跳过）。"
	}
	if err := p.notifier.SendDiscussionReply(ctx, item, reply); err != nil {
		slog.Warn("failed to send discussion reply", "id", item.ID, "error", err)
	}
}

// runPublishes attempts publication for every selected round whose
// retry budget is not exhausted. Failure leaves the round selected;
// exhausting the budget surfaces a notice asking for a fresh command.
func (p *Poller) runPublishes(ctx context.Context) {
	open, err := p.store.ListOpen(ctx)
	if err != nil {
		slog.Warn("failed to list reviews for publishing", "error", err)
		return
	}

	for _, item := range open {
		if item.Status != review.StatusSelected || item.PublishRetries >= p.maxPublishRetries {
			continue
		}
		p.attemptPublish(ctx, item)
	}
}

func (p *Poller) attemptPublish(ctx context.Context, item *review.Item) {
	cand, ok := item.Candidate(item.SelectedIndex)
	if !ok {
		slog.Warn("selected candidate missing", "id", item.ID, "index", item.SelectedIndex)
		return
	}

	now := p.clock.Now()
	if err := p.publisher.Publish(ctx, item.Topic, cand); err != nil {
		slog.Warn("publish failed", "id", item.ID, "index", cand.Index, "error", err)

		updated, applyErr := p.store.Apply(ctx, item.ID, func(it *review.Item) error {
			return it.ApplyEvent(review.EventPublishFailed, now)
		})
		if applyErr != nil {
			slog.Warn("failed to record publish failure", "id", item.ID, "error", applyErr)
			return
		}
		if updated.PublishRetries >= p.maxPublishRetries {
			if err := p.notifier.SendNotice(ctx, updated, review.NoticePublishFailed); err != nil {
				slog.Warn("failed to send publish-failed notice", "id", item.ID, "error", err)
			}
		}
		return
	}

	_, err := p.store.Apply(ctx, item.ID, func(it *review.Item) error {
		return it.ApplyEvent(review.EventPublishConfirmed, now)
	})
	if err != nil {
		slog.Warn("failed to record publish confirmation", "id", item.ID, "error", err)
		return
	}
	slog.Info("candidate published", "id", item.ID, "index", cand.Index, "topic", item.Topic)
}

// Package pipeline runs the scheduled generation workflow: collect
// reference material, produce candidate articles, open a review round,
// and send the review request.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"content-review-bot/review"
)

// Reference is one piece of collected source material.
type Reference struct {
	Title   string
	URL     string
	Excerpt string
}

// Collector gathers reference material from configured sources.
type Collector interface {
	Collect(ctx context.Context) ([]Reference, error)
}

// Generator proposes topics and produces candidate articles.
type Generator interface {
	ProposeTopic(ctx context.Context, refs []string) (string, error)
	GenerateCandidates(ctx context.Context, topic string, refs []string) ([]review.Candidate, error)
}

// Store provides review persistence.
type Store interface {
	Create(ctx context.Context, item *review.Item) error
	ListOpen(ctx context.Context) ([]*review.Item, error)
	Apply(ctx context.Context, id string, fn func(*review.Item) error) (*review.Item, error)
}

// Notifier sends the review request and returns the thread reference
// inbound replies will carry.
type Notifier interface {
	SendReviewRequest(ctx context.Context, item *review.Item) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Runner orchestrates one generation run.
type Runner struct {
	collector Collector
	generator Generator
	store     Store
	notifier  Notifier
	topic     string
	clock     Clock
}

// Option configures a Runner.
type Option func(*Runner)

// WithTopic fixes the article topic instead of proposing one from the
// collected material.
func WithTopic(topic string) Option {
	return func(r *Runner) {
		r.topic = topic
	}
}

// WithClock injects a clock (for tests).
func WithClock(c Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// NewRunner creates a generation runner.
func NewRunner(collector Collector, generator Generator, store Store, notifier Notifier, opts ...Option) *Runner {
	r := &Runner{
		collector: collector,
		generator: generator,
		store:     store,
		notifier:  notifier,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one generation run. When a review round is still open
// the run is skipped so the reviewer is never juggling two dialogues.
func (r *Runner) Run(ctx context.Context) error {
	open, err := r.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open reviews: %w", err)
	}
	if len(open) > 0 {
		slog.Info("skipping generation run, review still open", "open", len(open), "id", open[0].ID)
		return nil
	}

	slog.Info("starting generation run")

	collected, err := r.collector.Collect(ctx)
	if err != nil {
		slog.Warn("reference collection failed, generating without sources", "error", err)
	}
	refs := make([]string, 0, len(collected))
	for _, c := range collected {
		refs = append(refs, fmt.Sprintf("《%s》（%s）\n%s", c.Title, c.URL, c.Excerpt))
	}
	slog.Info("collected references", "count", len(refs))

	topic := r.topic
	if topic == "" {
		topic, err = r.generator.ProposeTopic(ctx, refs)
		if err != nil {
			return fmt.Errorf("propose topic: %w", err)
		}
		slog.Info("proposed topic", "topic", topic)
	}

	candidates, err := r.generator.GenerateCandidates(ctx, topic, refs)
	if err != nil {
		return fmt.Errorf("generate candidates: %w", err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no candidates generated for topic %q", topic)
	}

	now := r.clock.Now()
	item := review.NewItem(topic, candidates, now)
	if err := r.store.Create(ctx, item); err != nil {
		return fmt.Errorf("create review: %w", err)
	}

	ref, err := r.notifier.SendReviewRequest(ctx, item)
	if err != nil {
		return fmt.Errorf("send review request: %w", err)
	}
	if _, err := r.store.Apply(ctx, item.ID, func(it *review.Item) error {
		it.ThreadRef = ref
		return nil
	}); err != nil {
		return fmt.Errorf("bind thread ref: %w", err)
	}

	slog.Info("generation run complete", "id", item.ID, "topic", topic, "candidates", len(candidates))
	return nil
}

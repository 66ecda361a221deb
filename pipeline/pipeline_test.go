package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"content-review-bot/review"
	"content-review-bot/store"
)

type fakeCollector struct {
	refs []Reference
	err  error
}

func (f *fakeCollector) Collect(ctx context.Context) ([]Reference, error) {
	return f.refs, f.err
}

type fakeGenerator struct {
	topic      string
	candidates []review.Candidate
	err        error
	refsSeen   []string
}

func (f *fakeGenerator) ProposeTopic(ctx context.Context, refs []string) (string, error) {
	f.refsSeen = refs
	return f.topic, nil
}

func (f *fakeGenerator) GenerateCandidates(ctx context.Context, topic string, refs []string) ([]review.Candidate, error) {
	f.refsSeen = refs
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakeNotifier struct {
	requests []string
}

func (f *fakeNotifier) SendReviewRequest(ctx context.Context, item *review.Item) (string, error) {
	f.requests = append(f.requests, item.ID)
	return "REF-" + item.ID, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func defaultCandidates() []review.Candidate {
	return []review.Candidate{
		{Index: 1, Topic: "实战篇", Content: "正文一"},
		{Index: 2, Topic: "深度篇", Content: "正文二"},
	}
}

func TestRunOpensReviewRound(t *testing.T) {
	db := newTestStore(t)
	gen := &fakeGenerator{candidates: defaultCandidates()}
	notifier := &fakeNotifier{}
	collector := &fakeCollector{refs: []Reference{
		{Title: "参考", URL: "https://example.com", Excerpt: "摘要内容"},
	}}

	r := NewRunner(collector, gen, db, notifier, WithTopic("AI 写作"))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	open, err := db.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("len(open) = %d, want 1", len(open))
	}
	item := open[0]
	if item.Topic != "AI 写作" {
		t.Errorf("Topic = %q", item.Topic)
	}
	if item.Status != review.StatusPending {
		t.Errorf("Status = %q", item.Status)
	}
	if len(item.Candidates) != 2 {
		t.Errorf("len(Candidates) = %d, want 2", len(item.Candidates))
	}
	if item.ThreadRef != "REF-"+item.ID {
		t.Errorf("ThreadRef = %q not bound", item.ThreadRef)
	}
	if len(notifier.requests) != 1 {
		t.Errorf("requests = %v", notifier.requests)
	}

	// The collected material reaches the generator.
	if len(gen.refsSeen) != 1 || !strings.Contains(gen.refsSeen[0], "摘要内容") {
		t.Errorf("refs = %v", gen.refsSeen)
	}
}

func TestRunProposesTopicWhenUnset(t *testing.T) {
	db := newTestStore(t)
	gen := &fakeGenerator{topic: "大模型落地", candidates: defaultCandidates()}
	notifier := &fakeNotifier{}

	r := NewRunner(&fakeCollector{}, gen, db, notifier)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	open, err := db.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(open) != 1 || open[0].Topic != "大模型落地" {
		t.Errorf("open = %+v", open)
	}
}

func TestRunSkipsWhenRoundOpen(t *testing.T) {
	db := newTestStore(t)
	existing := review.NewItem("旧选题", defaultCandidates(), time.Now())
	if err := db.Create(context.Background(), existing); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	gen := &fakeGenerator{candidates: defaultCandidates()}
	notifier := &fakeNotifier{}
	r := NewRunner(&fakeCollector{}, gen, db, notifier, WithTopic("新选题"))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	open, err := db.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("len(open) = %d, want 1 (no new round)", len(open))
	}
	if len(notifier.requests) != 0 {
		t.Errorf("requests = %v, want none", notifier.requests)
	}
}

func TestRunToleratesCollectorFailure(t *testing.T) {
	db := newTestStore(t)
	gen := &fakeGenerator{candidates: defaultCandidates()}
	r := NewRunner(&fakeCollector{err: errors.New("network down")}, gen, db, &fakeNotifier{}, WithTopic("主题"))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	open, err := db.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("len(open) = %d, want 1", len(open))
	}
}

func TestRunFailsWithoutCandidates(t *testing.T) {
	db := newTestStore(t)
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	r := NewRunner(&fakeCollector{}, gen, db, &fakeNotifier{}, WithTopic("主题"))

	if err := r.Run(context.Background()); err == nil {
		t.Errorf("expected error")
	}

	open, err := db.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("len(open) = %d, want 0", len(open))
	}
}

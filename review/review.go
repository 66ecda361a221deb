// Package review holds the review-round data model and the lifecycle
// state machine that turns parsed reply commands into side-effect
// requests for collaborators.
package review

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"content-review-bot/command"
)

// Status is the lifecycle state of a review round.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSelected     Status = "selected"
	StatusModifying    Status = "modifying"
	StatusRegenerating Status = "regenerating"
	StatusDiscussing   Status = "discussing"
	StatusSkipped      Status = "skipped"
	StatusPublished    Status = "published"
	StatusExpired      Status = "expired"
	StatusSuperseded   Status = "superseded"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusPublished, StatusSkipped, StatusExpired, StatusSuperseded:
		return true
	}
	return false
}

// Candidate is one generated article variant within a round. The
// metadata scores are informational and never drive transitions.
type Candidate struct {
	Index           int     `json:"index"` // 1-based, immutable
	Topic           string  `json:"topic"`
	Content         string  `json:"content"`
	AngleType       string  `json:"angle_type"`
	QualityScore    float64 `json:"quality_score"`
	UniquenessScore float64 `json:"uniqueness_score"`
	WordCount       int     `json:"word_count"`
}

// Event is an externally driven lifecycle step that is not a reply
// command: publish outcomes, expiry, and supersession by a new round.
type Event string

const (
	EventPublishConfirmed Event = "publish-confirmed"
	EventPublishFailed    Event = "publish-failed"
	EventGenerateFailed   Event = "generate-failed"
	EventGenerateAborted  Event = "generate-aborted"
	EventExpired          Event = "expired"
	EventSuperseded       Event = "superseded"
)

// HistoryEntry records one applied command or event and the resulting
// status. The history is append-only.
type HistoryEntry struct {
	Command *command.Command `json:"command,omitempty"`
	Event   Event            `json:"event,omitempty"`
	Status  Status           `json:"status"`
	At      time.Time        `json:"at"`
}

// Item is one round of review for a content topic. Candidates are
// immutable once created; revision and regeneration always produce a
// new round and supersede the old one.
type Item struct {
	ID              string
	Topic           string
	Candidates      []Candidate
	Status          Status
	ThreadRef       string
	SelectedIndex   int // set when a selection is applied
	PublishRetries  int
	GenerateRetries int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	History         []HistoryEntry
}

// NewItem creates a pending round for a topic.
func NewItem(topic string, candidates []Candidate, now time.Time) *Item {
	return &Item{
		ID:         newID(now),
		Topic:      topic,
		Candidates: candidates,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewRound creates the pending round that replaces prev after a
// revision or regeneration.
func NewRound(prev *Item, candidates []Candidate, now time.Time) *Item {
	return NewItem(prev.Topic, candidates, now)
}

// Candidate returns the candidate at the 1-based index.
func (it *Item) Candidate(index int) (Candidate, bool) {
	if index < 1 || index > len(it.Candidates) {
		return Candidate{}, false
	}
	return it.Candidates[index-1], true
}

// LastCommand returns the most recently applied reviewer command, or
// nil when the history holds only events.
func (it *Item) LastCommand() *command.Command {
	for i := len(it.History) - 1; i >= 0; i-- {
		if it.History[i].Command != nil {
			return it.History[i].Command
		}
	}
	return nil
}

func newID(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read is documented never to fail.
		panic(err)
	}
	return now.Format("20060102") + "-" + hex.EncodeToString(buf)
}

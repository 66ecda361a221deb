package review

import (
	"fmt"
	"time"

	"content-review-bot/command"
)

// Action is the sealed set of side-effect requests the state machine
// emits for collaborators to execute. A nil Action means the transition
// requires no side effect (skip).
type Action interface {
	isAction()
}

func (PublishCandidate) isAction() {}
func (ReviseCandidate) isAction()  {}
func (RegenerateRound) isAction()  {}
func (DiscussionReply) isAction()  {}
func (Notice) isAction()           {}

// PublishCandidate requests publication of the candidate at Index.
type PublishCandidate struct {
	Index int
}

// ReviseCandidate requests a revision of the candidate at Index,
// producing a new round.
type ReviseCandidate struct {
	Index        int
	Instructions string
}

// RegenerateRound requests a fresh candidate set, producing a new
// round. Brief may be empty.
type RegenerateRound struct {
	Brief string
}

// DiscussionReply requests a conversational reply to the reviewer.
type DiscussionReply struct {
	Message string
}

// Notice requests a corrective notification to the reviewer.
type Notice struct {
	Kind NoticeKind
}

// NoticeKind identifies the corrective notification to send.
type NoticeKind string

const (
	NoticeInvalidSelection NoticeKind = "invalid-selection"
	NoticeUnrecognized     NoticeKind = "unrecognized"
	NoticeAlreadyResolved  NoticeKind = "already-resolved"
	NoticePublishFailed    NoticeKind = "publish-failed"
	NoticeGenerateFailed   NoticeKind = "generate-failed"
)

// Transition evaluates cmd against the item's current status and
// returns the status it would move to plus the action to dispatch. It
// never mutates the item. Out-of-range selections and unrecognized
// commands leave the status unchanged and emit a corrective notice so
// a malformed reply can never discard a pending round.
func Transition(it *Item, cmd command.Command) (Status, Action) {
	if it.Status.Terminal() {
		return it.Status, Notice{Kind: NoticeAlreadyResolved}
	}

	switch it.Status {
	case StatusRegenerating:
		// A replacement round is already on the way; this one no
		// longer accepts commands.
		return it.Status, Notice{Kind: NoticeAlreadyResolved}
	default:
		// pending, discussing, modifying and selected all accept
		// resolving commands. For discussing this is the loop-until-
		// resolved rule; for modifying it lets a fresh command
		// override an in-flight revision; for selected it lets the
		// reviewer issue a fresh command after publish failures.
		return resolve(it, cmd)
	}
}

func resolve(it *Item, cmd command.Command) (Status, Action) {
	switch cmd.Kind {
	case command.KindSelect:
		if _, ok := it.Candidate(cmd.Index); !ok {
			return it.Status, Notice{Kind: NoticeInvalidSelection}
		}
		return StatusSelected, PublishCandidate{Index: cmd.Index}
	case command.KindModify:
		if _, ok := it.Candidate(cmd.Index); !ok {
			return it.Status, Notice{Kind: NoticeInvalidSelection}
		}
		return StatusModifying, ReviseCandidate{Index: cmd.Index, Instructions: cmd.Instructions}
	case command.KindRegenerate:
		return StatusRegenerating, RegenerateRound{Brief: cmd.Brief}
	case command.KindSkip:
		return StatusSkipped, nil
	case command.KindDiscuss:
		return StatusDiscussing, DiscussionReply{Message: cmd.Message}
	default:
		return it.Status, Notice{Kind: NoticeUnrecognized}
	}
}

// Apply runs the transition for cmd, mutates the item's status and
// appends one history entry, and returns the action to dispatch.
func (it *Item) Apply(cmd command.Command, now time.Time) Action {
	status, action := Transition(it, cmd)
	switch a := action.(type) {
	case PublishCandidate:
		// A fresh selection restarts the publish retry budget.
		it.SelectedIndex = a.Index
		it.PublishRetries = 0
	case ReviseCandidate, RegenerateRound:
		// A fresh revision or regeneration restarts its retry budget.
		it.GenerateRetries = 0
	}
	it.Status = status
	it.UpdatedAt = now
	c := cmd
	it.History = append(it.History, HistoryEntry{Command: &c, Status: status, At: now})
	return action
}

// ApplyEvent applies an external lifecycle event. It rejects events
// whose precondition does not hold so an event can never force an
// invalid transition.
func (it *Item) ApplyEvent(ev Event, now time.Time) error {
	switch ev {
	case EventPublishConfirmed:
		if it.Status != StatusSelected {
			return fmt.Errorf("publish confirmation in status %q", it.Status)
		}
		it.Status = StatusPublished
	case EventPublishFailed:
		if it.Status != StatusSelected {
			return fmt.Errorf("publish failure in status %q", it.Status)
		}
		it.PublishRetries++
	case EventGenerateFailed:
		if it.Status != StatusModifying && it.Status != StatusRegenerating {
			return fmt.Errorf("generation failure in status %q", it.Status)
		}
		it.GenerateRetries++
	case EventGenerateAborted:
		// The retry budget is exhausted; the round reopens so a fresh
		// command can land.
		if it.Status != StatusModifying && it.Status != StatusRegenerating {
			return fmt.Errorf("generation abort in status %q", it.Status)
		}
		it.Status = StatusPending
	case EventExpired:
		if it.Status != StatusPending && it.Status != StatusDiscussing {
			return fmt.Errorf("expiry in status %q", it.Status)
		}
		it.Status = StatusExpired
	case EventSuperseded:
		if it.Status != StatusModifying && it.Status != StatusRegenerating {
			return fmt.Errorf("supersession in status %q", it.Status)
		}
		it.Status = StatusSuperseded
	default:
		return fmt.Errorf("unknown event %q", ev)
	}
	it.UpdatedAt = now
	it.History = append(it.History, HistoryEntry{Event: ev, Status: it.Status, At: now})
	return nil
}

// Replay re-derives the final status by reapplying the full history
// from pending. A well-formed item satisfies Replay() == Status.
func (it *Item) Replay() Status {
	shadow := &Item{Candidates: it.Candidates, Status: StatusPending}
	for _, entry := range it.History {
		if entry.Command != nil {
			shadow.Apply(*entry.Command, entry.At)
			continue
		}
		if err := shadow.ApplyEvent(entry.Event, entry.At); err != nil {
			// A rejected event contributes no status change.
			continue
		}
	}
	return shadow.Status
}

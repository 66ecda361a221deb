// Package telegram implements the review-dialogue transport over a
// Telegram chat: review requests go out as messages, reviewer replies
// come back correlated by the reply-to message id.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"content-review-bot/notify"
	"content-review-bot/poller"
	"content-review-bot/review"
)

const offsetKey = "telegram_update_offset"

// SettingsStore persists the getUpdates offset across restarts.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Transport sends review traffic to one chat and fetches its replies.
type Transport struct {
	api      *tgbotapi.BotAPI
	chatID   int64
	settings SettingsStore

	mu      sync.Mutex
	fetched int // next getUpdates offset, in memory only
	acked   int // highest offset persisted through MarkSeen
	loaded  bool
}

// New authenticates the bot and returns a transport bound to chatID.
func New(token string, chatID int64, settings SettingsStore) (*Transport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return NewWithBot(api, chatID, settings), nil
}

// NewWithBot wraps an already authenticated bot API.
func NewWithBot(api *tgbotapi.BotAPI, chatID int64, settings SettingsStore) *Transport {
	return &Transport{api: api, chatID: chatID, settings: settings}
}

// Username returns the authenticated bot username.
func (t *Transport) Username() string {
	return t.api.Self.UserName
}

// SendReviewRequest sends the multi-candidate review message. The sent
// message id becomes the thread reference replies are matched against.
func (t *Transport) SendReviewRequest(ctx context.Context, item *review.Item) (string, error) {
	msg := tgbotapi.NewMessage(t.chatID, notify.FormatReviewRequest(item))
	sent, err := t.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send review request: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendDiscussionReply sends a conversational reply into the review
// thread.
func (t *Transport) SendDiscussionReply(ctx context.Context, item *review.Item, message string) error {
	return t.reply(item, message)
}

// SendNotice sends a corrective notification into the review thread.
func (t *Transport) SendNotice(ctx context.Context, item *review.Item, kind review.NoticeKind) error {
	return t.reply(item, notify.FormatNotice(item, kind))
}

func (t *Transport) reply(item *review.Item, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if refID, err := strconv.Atoi(item.ThreadRef); err == nil {
		msg.ReplyToMessageID = refID
	}
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// FetchUnseen pulls pending updates and returns the ones that are
// replies to a known review thread. Only the in-memory offset advances
// here; the persisted offset moves in MarkSeen after the engine has
// recorded a message, so a crash mid-cycle redelivers the batch and
// the engine's seen-message ledger filters what was already applied.
func (t *Transport) FetchUnseen(ctx context.Context, threadRefs []string) ([]poller.InboundMessage, error) {
	known := make(map[string]bool, len(threadRefs))
	for _, ref := range threadRefs {
		known[ref] = true
	}

	cfg := tgbotapi.NewUpdate(t.nextOffset(ctx))
	cfg.Timeout = 0

	updates, err := t.api.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}

	var msgs []poller.InboundMessage
	next := 0
	for _, update := range updates {
		if update.UpdateID >= next {
			next = update.UpdateID + 1
		}
		m := update.Message
		if m == nil || m.ReplyToMessage == nil || m.Text == "" {
			continue
		}
		ref := strconv.Itoa(m.ReplyToMessage.MessageID)
		if !known[ref] {
			continue
		}
		msgs = append(msgs, poller.InboundMessage{
			ID:        strconv.Itoa(update.UpdateID),
			ThreadRef: ref,
			Body:      m.Text,
			Timestamp: time.Unix(int64(m.Date), 0),
		})
	}

	t.mu.Lock()
	if next > t.fetched {
		t.fetched = next
	}
	t.mu.Unlock()
	return msgs, nil
}

// MarkSeen advances the persisted getUpdates offset past the update,
// acknowledging it across restarts.
func (t *Transport) MarkSeen(ctx context.Context, messageID string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("parse update id %q: %w", messageID, err)
	}

	t.mu.Lock()
	if id+1 <= t.acked {
		t.mu.Unlock()
		return nil
	}
	t.acked = id + 1
	value := strconv.Itoa(t.acked)
	t.mu.Unlock()

	if err := t.settings.SetSetting(ctx, offsetKey, value); err != nil {
		return fmt.Errorf("persist update offset: %w", err)
	}
	return nil
}

func (t *Transport) nextOffset(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		t.loaded = true
		if value, err := t.settings.GetSetting(ctx, offsetKey); err == nil {
			if offset, err := strconv.Atoi(value); err == nil {
				t.acked = offset
				t.fetched = offset
			}
		}
	}
	return t.fetched
}

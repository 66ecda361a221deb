// Package mailer implements the review-dialogue transport over an HTTP
// mail API (SendClaw-style). Review requests go out as HTML mail with a
// [REV-<id>] subject token; replies are correlated by that token.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"content-review-bot/notify"
	"content-review-bot/poller"
	"content-review-bot/review"
)

const defaultBaseURL = "https://sendclaw.com/api"

var threadTokenRegex = regexp.MustCompile(`\[(REV-[0-9a-f-]+)\]`)

// Client talks to the mail API.
type Client struct {
	baseURL    string
	apiKey     string
	from       string
	to         string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a mail transport sending from one address to the
// reviewer's address.
func NewClient(apiKey, from, to string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		from:       from,
		to:         to,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ThreadRef returns the subject token correlating replies to a round.
func ThreadRef(item *review.Item) string {
	return "REV-" + item.ID
}

// SendReviewRequest mails the multi-candidate review message and
// returns the subject token used as thread reference.
func (c *Client) SendReviewRequest(ctx context.Context, item *review.Item) (string, error) {
	ref := ThreadRef(item)
	subject := fmt.Sprintf("[%s] 内容审核 - %s（%d 篇候选）", ref, item.Topic, len(item.Candidates))
	if err := c.send(ctx, subject, notify.FormatReviewHTML(item), true); err != nil {
		return "", err
	}
	return ref, nil
}

// SendDiscussionReply mails a conversational reply into the thread.
func (c *Client) SendDiscussionReply(ctx context.Context, item *review.Item, message string) error {
	subject := fmt.Sprintf("Re: [%s] 内容审核 - %s", item.ThreadRef, item.Topic)
	return c.send(ctx, subject, message, false)
}

// SendNotice mails a corrective notification into the thread.
func (c *Client) SendNotice(ctx context.Context, item *review.Item, kind review.NoticeKind) error {
	subject := fmt.Sprintf("Re: [%s] 内容审核 - %s", item.ThreadRef, item.Topic)
	return c.send(ctx, subject, notify.FormatNotice(item, kind), false)
}

func (c *Client) send(ctx context.Context, subject, body string, isHTML bool) error {
	payload := map[string]string{
		"from":    c.from,
		"to":      c.to,
		"subject": subject,
	}
	if isHTML {
		payload["bodyHtml"] = body
	} else {
		payload["bodyText"] = body
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mail/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail API returned status %d", resp.StatusCode)
	}
	return nil
}

type message struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	BodyText   string `json:"bodyText"`
	ReceivedAt string `json:"receivedAt"`
}

// FetchUnseen returns unread replies whose subject token matches a
// known review thread.
func (c *Client) FetchUnseen(ctx context.Context, threadRefs []string) ([]poller.InboundMessage, error) {
	known := make(map[string]bool, len(threadRefs))
	for _, ref := range threadRefs {
		known[ref] = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/mail/messages?unread=true&limit=50", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mail API returned status %d", resp.StatusCode)
	}

	var result struct {
		Messages []message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var msgs []poller.InboundMessage
	for _, m := range result.Messages {
		match := threadTokenRegex.FindStringSubmatch(m.Subject)
		if match == nil || !known[match[1]] {
			continue
		}
		ts, err := time.Parse(time.RFC3339, m.ReceivedAt)
		if err != nil {
			ts = time.Now()
		}
		msgs = append(msgs, poller.InboundMessage{
			ID:        m.ID,
			ThreadRef: match[1],
			Body:      m.BodyText,
			Timestamp: ts,
		})
	}
	return msgs, nil
}

// MarkSeen marks one message read on the mail server.
func (c *Client) MarkSeen(ctx context.Context, messageID string) error {
	endpoint := fmt.Sprintf("%s/mail/messages/%s/read", c.baseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail API returned status %d", resp.StatusCode)
	}
	return nil
}

// Package publisher uploads approved articles to the WeChat official
// account platform as drafts.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"

	"content-review-bot/review"
)

const (
	defaultBaseURL = "https://api.weixin.qq.com/cgi-bin"
	digestLimit    = 120
)

// Config holds the WeChat app credentials and draft defaults.
type Config struct {
	AppID        string
	AppSecret    string
	Author       string
	ThumbMediaID string
}

// Publisher converts article content to WeChat-friendly HTML and
// creates drafts through the official account API.
type Publisher struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBaseURL overrides the WeChat API base URL. Used in tests.
func WithBaseURL(u string) Option {
	return func(p *Publisher) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.httpClient.Timeout = d
	}
}

// NewPublisher creates a publisher for the given WeChat app.
func NewPublisher(cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("app_id and app_secret are required")
	}
	p := &Publisher{
		cfg:        cfg,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type accessTokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

type addDraftResp struct {
	MediaID string `json:"media_id"`
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type draftArticle struct {
	Title              string `json:"title"`
	Author             string `json:"author"`
	Digest             string `json:"digest"`
	Content            string `json:"content"`
	ThumbMediaID       string `json:"thumb_media_id"`
	NeedOpenComment    int    `json:"need_open_comment"`
	OnlyFansCanComment int    `json:"only_fans_can_comment"`
}

type addDraftPayload struct {
	Articles []draftArticle `json:"articles"`
}

// Publish converts the candidate to HTML and creates a WeChat draft.
func (p *Publisher) Publish(ctx context.Context, topic string, c review.Candidate) error {
	token, err := p.token(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	html, err := markdownToHTML(c.Content)
	if err != nil {
		return fmt.Errorf("convert content: %w", err)
	}
	html = normalizeForWeChat(html)

	art := draftArticle{
		Title:        c.Topic,
		Author:       p.cfg.Author,
		Digest:       digest(c.Content),
		Content:      html,
		ThumbMediaID: p.cfg.ThumbMediaID,
	}

	mediaID, err := p.addDraft(ctx, token, art)
	if err != nil {
		return err
	}
	slog.Info("created WeChat draft", "topic", topic, "title", c.Topic, "media_id", mediaID)
	return nil
}

// token returns a cached access token, fetching a fresh one when the
// cached token is missing or about to expire.
func (p *Publisher) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/token", nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("grant_type", "client_credential")
	q.Set("appid", p.cfg.AppID)
	q.Set("secret", p.cfg.AppSecret)
	req.URL.RawQuery = q.Encode()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var data accessTokenResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("token request rejected: %d %s", data.ErrCode, data.ErrMsg)
	}

	p.accessToken = data.AccessToken
	expiresIn := data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 7200
	}
	// Refresh a minute early to avoid racing the server-side expiry.
	p.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)
	return p.accessToken, nil
}

func (p *Publisher) addDraft(ctx context.Context, token string, art draftArticle) (string, error) {
	body, err := json.Marshal(addDraftPayload{Articles: []draftArticle{art}})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/draft/add", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	q := req.URL.Query()
	q.Set("access_token", token)
	req.URL.RawQuery = q.Encode()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var data addDraftResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.MediaID == "" {
		return "", fmt.Errorf("draft rejected: %d %s", data.ErrCode, data.ErrMsg)
	}
	return data.MediaID, nil
}

func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var (
	headingRe = regexp.MustCompile(`(?s)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	olRe      = regexp.MustCompile(`(?s)<ol[^>]*>(.*?)</ol>`)
	ulRe      = regexp.MustCompile(`(?s)<ul[^>]*>(.*?)</ul>`)
	liRe      = regexp.MustCompile(`(?s)<li[^>]*>(.*?)</li>`)
)

var headingSizes = map[string]string{
	"1": "24px",
	"2": "22px",
	"3": "20px",
	"4": "18px",
	"5": "16px",
	"6": "15px",
}

// The WeChat editor strips heading and list styling, so headings become
// sized paragraphs and lists are flattened before upload.
func normalizeForWeChat(html string) string {
	html = headingRe.ReplaceAllStringFunc(html, func(block string) string {
		parts := headingRe.FindStringSubmatch(block)
		if len(parts) != 3 {
			return block
		}
		size := headingSizes[parts[1]]
		if size == "" {
			size = "18px"
		}
		text := strings.TrimSpace(parts[2])
		return fmt.Sprintf(`<p style="font-size:%s;font-weight:700;margin:1em 0 0.6em;">%s</p>`, size, text)
	})

	html = olRe.ReplaceAllStringFunc(html, func(block string) string {
		items := liRe.FindAllStringSubmatch(block, -1)
		if len(items) == 0 {
			return block
		}
		var b strings.Builder
		for i, item := range items {
			fmt.Fprintf(&b, "<p>%d. %s</p>", i+1, strings.TrimSpace(item[1]))
		}
		return b.String()
	})

	html = ulRe.ReplaceAllStringFunc(html, func(block string) string {
		items := liRe.FindAllStringSubmatch(block, -1)
		if len(items) == 0 {
			return block
		}
		var b strings.Builder
		for _, item := range items {
			fmt.Fprintf(&b, "<p>• %s</p>", strings.TrimSpace(item[1]))
		}
		return b.String()
	})

	return html
}

func digest(md string) string {
	joined := strings.Join(strings.Fields(md), " ")
	if utf8.RuneCountInString(joined) <= digestLimit {
		return joined
	}
	runes := []rune(joined)
	return string(runes[:digestLimit])
}

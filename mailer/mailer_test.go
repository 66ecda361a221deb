package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"content-review-bot/review"
)

func newTestItem() *review.Item {
	item := review.NewItem("AI 写作", []review.Candidate{
		{Index: 1, Topic: "实战篇", Content: "正文一"},
		{Index: 2, Topic: "深度篇", Content: "正文二"},
	}, time.Now())
	item.ThreadRef = ThreadRef(item)
	return item
}

func TestSendReviewRequest(t *testing.T) {
	var gotPath, gotKey string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient("sc-key", "bot@example.com", "editor@example.com", WithBaseURL(server.URL))
	item := newTestItem()

	ref, err := c.SendReviewRequest(context.Background(), item)
	if err != nil {
		t.Fatalf("SendReviewRequest failed: %v", err)
	}
	if ref != "REV-"+item.ID {
		t.Errorf("ref = %q", ref)
	}
	if gotPath != "/mail/send" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "sc-key" {
		t.Errorf("api key = %q", gotKey)
	}
	if gotPayload["to"] != "editor@example.com" {
		t.Errorf("to = %q", gotPayload["to"])
	}
	if !strings.Contains(gotPayload["subject"], "["+ref+"]") {
		t.Errorf("subject = %q missing thread token", gotPayload["subject"])
	}
	if !strings.Contains(gotPayload["subject"], "2 篇候选") {
		t.Errorf("subject = %q", gotPayload["subject"])
	}
	if !strings.Contains(gotPayload["bodyHtml"], "候选 1") {
		t.Errorf("bodyHtml missing candidate block")
	}
	if gotPayload["bodyText"] != "" {
		t.Errorf("unexpected bodyText on HTML mail")
	}
}

func TestSendDiscussionReplyUsesThread(t *testing.T) {
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient("k", "bot@example.com", "editor@example.com", WithBaseURL(server.URL))
	item := newTestItem()

	if err := c.SendDiscussionReply(context.Background(), item, "我的看法是……"); err != nil {
		t.Fatalf("SendDiscussionReply failed: %v", err)
	}
	if !strings.HasPrefix(gotPayload["subject"], "Re: ["+item.ThreadRef+"]") {
		t.Errorf("subject = %q", gotPayload["subject"])
	}
	if gotPayload["bodyText"] != "我的看法是……" {
		t.Errorf("bodyText = %q", gotPayload["bodyText"])
	}
}

func TestSendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient("bad-key", "bot@example.com", "editor@example.com", WithBaseURL(server.URL))

	if err := c.SendNotice(context.Background(), newTestItem(), review.NoticeUnrecognized); err == nil {
		t.Errorf("expected error on non-200 status")
	}
}

func TestFetchUnseenFiltersByThreadToken(t *testing.T) {
	item := newTestItem()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mail/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("unread") != "true" {
			t.Errorf("unread query missing")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{
				{"id": "m1", "subject": "Re: [" + item.ThreadRef + "] 内容审核", "bodyText": "选2", "receivedAt": "2026-08-25T09:00:00Z"},
				{"id": "m2", "subject": "Re: [REV-20260101-deadbeef] 内容审核", "bodyText": "选1", "receivedAt": "2026-08-25T09:01:00Z"},
				{"id": "m3", "subject": "与审核无关的邮件", "bodyText": "hello", "receivedAt": "2026-08-25T09:02:00Z"},
			},
		})
	}))
	defer server.Close()

	c := NewClient("k", "bot@example.com", "editor@example.com", WithBaseURL(server.URL))

	msgs, err := c.FetchUnseen(context.Background(), []string{item.ThreadRef})
	if err != nil {
		t.Fatalf("FetchUnseen failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0].ID != "m1" {
		t.Errorf("ID = %q", msgs[0].ID)
	}
	if msgs[0].ThreadRef != item.ThreadRef {
		t.Errorf("ThreadRef = %q", msgs[0].ThreadRef)
	}
	if msgs[0].Body != "选2" {
		t.Errorf("Body = %q", msgs[0].Body)
	}
	want := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	if !msgs[0].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", msgs[0].Timestamp, want)
	}
}

func TestMarkSeen(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient("k", "bot@example.com", "editor@example.com", WithBaseURL(server.URL))

	if err := c.MarkSeen(context.Background(), "m1"); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if gotPath != "/mail/messages/m1/read" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestThreadTokenShape(t *testing.T) {
	item := newTestItem()
	subject := "Re: [" + ThreadRef(item) + "] anything"
	match := threadTokenRegex.FindStringSubmatch(subject)
	if match == nil || match[1] != ThreadRef(item) {
		t.Errorf("token %q not extracted from %q", ThreadRef(item), subject)
	}
}

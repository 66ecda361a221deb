package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testPage = `<!DOCTYPE html>
<html>
<head><title>AI 编程助手实测</title></head>
<body>
<article>
<h1>AI 编程助手实测</h1>
<p>这是一篇关于 AI 编程助手的长文，包含大量正文内容。编辑器集成、代码补全与重构建议都在测试范围内。</p>
<p>第二段继续展开，讨论了补全质量、延迟和隐私问题，并给出了量化对比。</p>
</article>
</body>
</html>`

func TestCollect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer server.Close()

	f := NewFetcher([]string{server.URL})
	refs, err := f.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("len(refs) = %d, want 1", len(refs))
	}
	if refs[0].URL != server.URL {
		t.Errorf("URL = %q", refs[0].URL)
	}
	if !strings.Contains(refs[0].Title, "AI 编程助手") {
		t.Errorf("Title = %q", refs[0].Title)
	}
	if !strings.Contains(refs[0].Excerpt, "代码补全") {
		t.Errorf("Excerpt = %q", refs[0].Excerpt)
	}
}

func TestCollectSkipsFailingSources(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := NewFetcher([]string{bad.URL, "not-a-url", good.URL})
	refs, err := f.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("len(refs) = %d, want 1", len(refs))
	}
}

func TestCollectTruncatesExcerpt(t *testing.T) {
	long := "<html><head><title>长文</title></head><body><article><p>" +
		strings.Repeat("内容很长。", 500) + "</p></article></body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(long))
	}))
	defer server.Close()

	f := NewFetcher([]string{server.URL}, WithMaxExcerptLength(100))
	refs, err := f.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("len(refs) = %d, want 1", len(refs))
	}
	if len(refs[0].Excerpt) > 100 {
		t.Errorf("excerpt length = %d, want <= 100", len(refs[0].Excerpt))
	}
}

func TestCollectNoSources(t *testing.T) {
	f := NewFetcher(nil)
	refs, err := f.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("len(refs) = %d, want 0", len(refs))
	}
}

// Package notify renders review requests, notices and discussion
// replies. Transports send what this package formats.
package notify

import (
	"fmt"
	"html"
	"strings"

	"content-review-bot/review"
)

const previewRunes = 500

// FormatReviewRequest renders the multi-candidate review message for a
// chat transport.
func FormatReviewRequest(item *review.Item) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📄 内容审核：%s\n", item.Topic))
	sb.WriteString(fmt.Sprintf("已生成 %d 篇候选文章，请回复审核指令。\n", len(item.Candidates)))

	for _, c := range item.Candidates {
		sb.WriteString(fmt.Sprintf("\n—— 候选 %d：%s ——\n", c.Index, c.Topic))
		sb.WriteString(fmt.Sprintf("角度：%s | 质量分：%.1f | 独特分：%.1f | 字数：%d\n",
			c.AngleType, c.QualityScore, c.UniquenessScore, c.WordCount))
		sb.WriteString(preview(c.Content))
		sb.WriteString("\n")
	}

	sb.WriteString("\n🎯 审核操作指南（直接回复即可）：\n")
	sb.WriteString(commandGuide(len(item.Candidates)))
	return sb.String()
}

// FormatReviewHTML renders the review message as an HTML mail body.
func FormatReviewHTML(item *review.Item) string {
	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html><html><head><meta charset="UTF-8"></head><body>`)
	sb.WriteString(fmt.Sprintf("<h1>📄 内容审核：%s</h1>", html.EscapeString(item.Topic)))
	sb.WriteString(fmt.Sprintf("<p>已生成 %d 篇候选文章，请审核后直接回复本邮件。</p>", len(item.Candidates)))

	for _, c := range item.Candidates {
		sb.WriteString(fmt.Sprintf("<h2>候选 %d：%s</h2>", c.Index, html.EscapeString(c.Topic)))
		sb.WriteString(fmt.Sprintf("<p>角度：%s | 质量分：%.1f | 独特分：%.1f | 字数：%d</p>",
			html.EscapeString(c.AngleType), c.QualityScore, c.UniquenessScore, c.WordCount))
		sb.WriteString("<div style=\"white-space: pre-wrap\">")
		sb.WriteString(html.EscapeString(c.Content))
		sb.WriteString("</div>")
	}

	sb.WriteString("<h3>🎯 审核操作指南</h3><pre>")
	sb.WriteString(html.EscapeString(commandGuide(len(item.Candidates))))
	sb.WriteString("</pre></body></html>")
	return sb.String()
}

// FormatNotice renders the corrective notification for a notice kind.
func FormatNotice(item *review.Item, kind review.NoticeKind) string {
	switch kind {
	case review.NoticeInvalidSelection:
		return fmt.Sprintf("候选编号超出范围：本期「%s」共有 %d 篇候选，请回复有效编号（如：选1）。",
			item.Topic, len(item.Candidates))
	case review.NoticeUnrecognized:
		return "未能识别该回复。可用指令：\n" + commandGuide(len(item.Candidates))
	case review.NoticeAlreadyResolved:
		return fmt.Sprintf("本期「%s」的审核已结束（状态：%s），该回复未生效。", item.Topic, item.Status)
	case review.NoticePublishFailed:
		return fmt.Sprintf("候选 %d 发布多次失败，已暂停自动重试。请回复新的指令（重新选择、修改或跳过）。",
			item.SelectedIndex)
	case review.NoticeGenerateFailed:
		return fmt.Sprintf("本期「%s」的候选生成多次失败，已暂停自动重试。本轮候选仍然有效，请回复新的指令（选择、修改、重新生成或跳过）。",
			item.Topic)
	}
	return fmt.Sprintf("通知：%s", kind)
}

func commandGuide(n int) string {
	return fmt.Sprintf(
		"• 选 [1-%d] — 发布指定候选\n"+
			"• 修改 [编号] [意见] — 针对性修改后进入新一轮审核\n"+
			"• 重新生成 [方向] — 按新方向重写全部候选\n"+
			"• 跳过 — 本期不发布\n"+
			"• 其他内容 — 与系统讨论，不影响审核状态", n)
}

func preview(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= previewRunes {
		return string(runes)
	}
	return string(runes[:previewRunes]) + "..."
}

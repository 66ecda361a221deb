// Package generator produces candidate articles, revisions and
// discussion replies through a language model.
package generator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"content-review-bot/review"
)

const systemPrompt = "你是一名中文公众号内容主编，擅长把行业资讯写成有观点、有案例的深度文章。" +
	"严格按照要求的输出格式返回，不要附加解释。"

// AngleProfile describes one writing angle for candidate variation.
type AngleProfile struct {
	Name  string
	Focus string
	Style string
}

// DefaultAngles returns the stock angle variations.
func DefaultAngles() []AngleProfile {
	return []AngleProfile{
		{Name: "实战派", Focus: "具体工具、操作步骤、可复现案例", Style: "实用、接地气、手把手教学"},
		{Name: "深度派", Focus: "底层逻辑、本质分析、长期趋势", Style: "理性、宏观、哲思"},
		{Name: "故事派", Focus: "人物经历、转型故事、情感共鸣", Style: "叙事、有温度、启发性"},
	}
}

// Generator produces multi-angle candidate sets.
type Generator struct {
	llm    LLMClient
	angles []AngleProfile
	count  int
}

// Option configures a Generator.
type Option func(*Generator)

// WithAngles overrides the angle profiles.
func WithAngles(angles []AngleProfile) Option {
	return func(g *Generator) {
		g.angles = angles
	}
}

// WithCandidateCount sets how many candidates each round holds.
func WithCandidateCount(n int) Option {
	return func(g *Generator) {
		g.count = n
	}
}

// NewGenerator creates a generator over an LLM client.
func NewGenerator(llm LLMClient, opts ...Option) *Generator {
	g := &Generator{
		llm:    llm,
		angles: DefaultAngles(),
		count:  3,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateCandidates produces one candidate per angle, up to the
// configured count, using the reference excerpts as material.
func (g *Generator) GenerateCandidates(ctx context.Context, topic string, refs []string) ([]review.Candidate, error) {
	return g.generate(ctx, topic, refs, "")
}

// Regenerate produces a fresh candidate set for a new round. brief may
// carry an extra writing direction; empty means no new constraints.
func (g *Generator) Regenerate(ctx context.Context, topic, brief string) ([]review.Candidate, error) {
	return g.generate(ctx, topic, nil, brief)
}

func (g *Generator) generate(ctx context.Context, topic string, refs []string, brief string) ([]review.Candidate, error) {
	var candidates []review.Candidate
	for i, angle := range g.angles {
		if i >= g.count {
			break
		}

		output, err := g.llm.Complete(ctx, systemPrompt, buildAnglePrompt(topic, angle, refs, brief))
		if err != nil {
			return nil, fmt.Errorf("generate candidate %d (%s): %w", i+1, angle.Name, err)
		}

		title, content := parseArticleOutput(output)
		if title == "" {
			title = fmt.Sprintf("%s（%s视角）", topic, angle.Name)
		}
		candidates = append(candidates, review.Candidate{
			Index:           i + 1,
			Topic:           title,
			Content:         content,
			AngleType:       angle.Name,
			QualityScore:    qualityScore(content),
			UniquenessScore: uniquenessScore(content),
			WordCount:       utf8.RuneCountInString(content),
		})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates generated for topic %q", topic)
	}
	return candidates, nil
}

// Revise rewrites one candidate per the reviewer's instructions and
// returns the revised variant. The input candidate is not modified.
func (g *Generator) Revise(ctx context.Context, c review.Candidate, instructions string) (review.Candidate, error) {
	prompt := fmt.Sprintf(`请按以下修改意见重写这篇文章，保持原有选题和角度：

修改意见：%s

原文标题：%s
原文内容：
%s

请输出：
选题标题：[标题]
文章内容：[完整文章]`, instructions, c.Topic, c.Content)

	output, err := g.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return review.Candidate{}, fmt.Errorf("revise candidate %d: %w", c.Index, err)
	}

	title, content := parseArticleOutput(output)
	if title == "" {
		title = c.Topic
	}
	revised := c
	revised.Topic = title
	revised.Content = content
	revised.QualityScore = qualityScore(content)
	revised.UniquenessScore = uniquenessScore(content)
	revised.WordCount = utf8.RuneCountInString(content)
	return revised, nil
}

// Discuss composes a conversational reply to a reviewer comment.
func (g *Generator) Discuss(ctx context.Context, topic, message string) (string, error) {
	prompt := fmt.Sprintf(`审核人正在审核主题「%s」的候选文章，刚发来这条讨论：

%s

请用 3 句以内回应，最后提醒对方可以回复审核指令（选/修改/重新生成/跳过）。`, topic, message)

	reply, err := g.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("compose discussion reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// ProposeTopic derives a topic from collected reference excerpts.
func (g *Generator) ProposeTopic(ctx context.Context, refs []string) (string, error) {
	prompt := fmt.Sprintf(`根据以下热点资讯，提炼一个适合写深度文章的主题：

%s

输出格式：
主题：[主题名称，10字以内]`, strings.Join(refs, "\n"))

	output, err := g.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("propose topic: %w", err)
	}

	for _, line := range strings.Split(output, "\n") {
		if value, ok := markerValue(line, "主题"); ok && value != "" {
			return value, nil
		}
	}
	if topic := strings.TrimSpace(output); topic != "" {
		return firstLine(topic), nil
	}
	return "", fmt.Errorf("no topic in model output")
}

func buildAnglePrompt(topic string, angle AngleProfile, refs []string, brief string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "围绕主题「%s」，从「%s」角度撰写文章。\n\n", topic, angle.Name)
	fmt.Fprintf(&sb, "角度特点：%s\n写作风格：%s\n", angle.Focus, angle.Style)
	if brief != "" {
		fmt.Fprintf(&sb, "本轮额外要求：%s\n", brief)
	}
	if len(refs) > 0 {
		sb.WriteString("\n参考资料：\n")
		for i, ref := range refs {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&sb, "%d. %s\n", i+1, ref)
		}
	}
	sb.WriteString(`
要求：
1. 必须包含具体案例和数据
2. 1500-2000字
3. 拒绝陈词滥调

请输出：
选题标题：[标题]
文章内容：[完整文章]`)
	return sb.String()
}

// parseArticleOutput extracts the title and body from marker-formatted
// model output, falling back to first-line-as-title.
func parseArticleOutput(output string) (title, content string) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i, line := range lines {
		if value, ok := markerValue(line, "选题标题"); ok {
			title = value
			continue
		}
		if value, ok := markerValue(line, "文章内容"); ok {
			rest := strings.Join(lines[i+1:], "\n")
			content = strings.TrimSpace(value + "\n" + rest)
			break
		}
	}
	if content == "" {
		if title != "" && len(lines) > 1 {
			content = strings.TrimSpace(strings.Join(lines[1:], "\n"))
		} else {
			content = strings.TrimSpace(output)
		}
	}
	return title, content
}

func markerValue(line, marker string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, sep := range []string{"：", ":"} {
		if strings.HasPrefix(trimmed, marker+sep) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, marker+sep)), true
		}
	}
	return "", false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// qualityScore is a 0-10 heuristic rewarding cases, data, advice,
// length and interaction. Informational only.
func qualityScore(content string) float64 {
	score := 5.0
	if strings.Contains(content, "案例") || strings.Contains(content, "例子") {
		score++
	}
	if strings.Contains(content, "%") || strings.Contains(content, "数据") {
		score++
	}
	if strings.Contains(content, "建议") || strings.Contains(content, "方法") {
		score++
	}
	if utf8.RuneCountInString(content) >= 1200 {
		score++
	}
	if strings.ContainsAny(content, "?？") {
		score += 0.5
	}
	if score > 10 {
		score = 10
	}
	return score
}

// uniquenessScore is a 1-10 heuristic rewarding fresh framing.
// Informational only.
func uniquenessScore(content string) float64 {
	score := 7.0
	for _, term := range []string{"新范式", "重构", "跃迁", "本质", "底层", "第一性"} {
		if strings.Contains(content, term) {
			score += 0.3
		}
	}
	if score > 10 {
		score = 10
	}
	return score
}

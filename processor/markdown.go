// Package processor translates Markdown documents while preserving their
// structure. Code blocks, inline code, raw HTML, and link destinations
// pass through untouched; prose, link labels, image alt text, and a fixed
// set of frontmatter fields are translated.
package processor

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/LouisLau-art/arktrans"
)

// TranslationService is the part of the translator the processor needs.
type TranslationService interface {
	Translate(ctx context.Context, req arktrans.TranslationRequest) (arktrans.TranslationResult, error)
}

// Markdown translates Markdown files and directories.
type Markdown struct {
	svc            TranslationService
	md             goldmark.Markdown
	logger         *slog.Logger
	maxInputTokens int
}

// Option configures a Markdown processor.
type Option func(*Markdown)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Markdown) { m.logger = l }
}

// WithMaxInputTokens sets the per-request input budget used to split
// oversized text runs.
func WithMaxInputTokens(n int) Option {
	return func(m *Markdown) { m.maxInputTokens = n }
}

// NewMarkdown creates a processor backed by the given translation service.
func NewMarkdown(svc TranslationService, opts ...Option) *Markdown {
	m := &Markdown{
		svc:            svc,
		md:             goldmark.New(),
		maxInputTokens: arktrans.DefaultMaxInputTokens,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// frontmatterFields are the only frontmatter keys whose values are
// translated; everything else passes through verbatim.
var frontmatterFields = map[string]bool{
	"title":       true,
	"description": true,
	"summary":     true,
	"name":        true,
	"alt":         true,
}

var sentenceRe = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]`)

// TranslateContent translates one Markdown document. An empty sourceLang
// requests upstream auto-detection. Failed segments keep their original
// text so a partially translated document is still structurally intact.
func (m *Markdown) TranslateContent(ctx context.Context, content, targetLang, sourceLang string) (string, error) {
	if sourceLang == "" {
		sourceLang = "auto"
	}

	inner, body, hasFM := splitFrontmatter(content)

	var out strings.Builder
	if hasFM {
		fm, err := m.translateFrontmatter(ctx, inner, targetLang, sourceLang)
		if err != nil {
			return "", err
		}
		out.WriteString(fm)
	}

	out.WriteString(m.translateBody(ctx, body, targetLang, sourceLang))
	return out.String(), nil
}

// TranslateFile translates input and writes the result to output, creating
// parent directories as needed.
func (m *Markdown) TranslateFile(ctx context.Context, input, output, targetLang, sourceLang string) error {
	m.logger.Debug("translating file", "input", input)

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("arktrans/processor: read %s: %w", input, err)
	}

	translated, err := m.TranslateContent(ctx, string(data), targetLang, sourceLang)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("arktrans/processor: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(output, []byte(translated), 0o644); err != nil {
		return fmt.Errorf("arktrans/processor: write %s: %w", output, err)
	}

	m.logger.Info("translated file", "input", input, "output", output)
	return nil
}

// FindFiles lists the Markdown files directly inside dir.
func (m *Markdown) FindFiles(dir string) ([]string, error) {
	if err := mustBeDir(dir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("arktrans/processor: read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsMarkdownFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// FindFilesRecursive lists the Markdown files under dir, walking
// subdirectories. Unreadable entries are skipped.
func (m *Markdown) FindFilesRecursive(dir string) ([]string, error) {
	if err := mustBeDir(dir); err != nil {
		return nil, err
	}

	var files []string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && IsMarkdownFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, nil
}

// IsMarkdownFile reports whether path has a Markdown extension.
func IsMarkdownFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func mustBeDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("arktrans/processor: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("arktrans/processor: %s is not a directory", dir)
	}
	return nil
}

// splitFrontmatter detects a leading YAML frontmatter block. inner is the
// YAML between the fences, body everything after the closing fence.
func splitFrontmatter(content string) (inner, body string, ok bool) {
	if !strings.HasPrefix(content, "---\n") {
		return "", content, false
	}
	idx := strings.Index(content, "\n---\n")
	if idx < 0 {
		return "", content, false
	}
	return content[4 : idx+1], content[idx+5:], true
}

func (m *Markdown) translateFrontmatter(ctx context.Context, inner, targetLang, sourceLang string) (string, error) {
	if strings.TrimSpace(inner) == "" {
		return "---\n" + inner + "---\n", nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(inner), &doc); err != nil {
		return "", fmt.Errorf("arktrans/processor: parse frontmatter: %w", err)
	}

	if len(doc.Content) > 0 {
		m.translateMapping(ctx, doc.Content[0], targetLang, sourceLang)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("arktrans/processor: encode frontmatter: %w", err)
	}
	return "---\n" + string(out) + "---\n", nil
}

// translateMapping rewrites translatable scalar values in place, keeping
// key order and every untranslated node untouched.
func (m *Markdown) translateMapping(ctx context.Context, node *yaml.Node, targetLang, sourceLang string) {
	if node == nil || node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if !frontmatterFields[key.Value] {
			continue
		}
		if val.Kind != yaml.ScalarNode || val.Tag != "!!str" {
			continue
		}
		val.Value = m.translateChunk(ctx, val.Value, targetLang, sourceLang)
	}
}

type textSpan struct {
	start, stop int
}

func (m *Markdown) translateBody(ctx context.Context, body, targetLang, sourceLang string) string {
	src := []byte(body)
	doc := m.md.Parser().Parse(text.NewReader(src))

	var spans []textSpan
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindCodeBlock, ast.KindFencedCodeBlock, ast.KindHTMLBlock,
			ast.KindCodeSpan, ast.KindRawHTML, ast.KindAutoLink:
			return ast.WalkSkipChildren, nil
		}
		if t, ok := n.(*ast.Text); ok {
			if seg := t.Segment; seg.Len() > 0 {
				spans = append(spans, textSpan{start: seg.Start, stop: seg.Stop})
			}
		}
		return ast.WalkContinue, nil
	})

	spans = mergeSpans(src, spans)

	var out strings.Builder
	prev := 0
	for _, s := range spans {
		out.Write(src[prev:s.start])
		segment := string(src[s.start:s.stop])
		if strings.TrimSpace(segment) == "" {
			out.WriteString(segment)
		} else {
			out.WriteString(m.translateSegment(ctx, segment, targetLang, sourceLang))
		}
		prev = s.stop
	}
	out.Write(src[prev:])
	return out.String()
}

// mergeSpans joins text runs separated only by intra-paragraph whitespace
// so a sentence wrapped across source lines is translated as one unit.
func mergeSpans(src []byte, spans []textSpan) []textSpan {
	if len(spans) == 0 {
		return nil
	}

	merged := []textSpan{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start < last.stop {
			if s.stop > last.stop {
				last.stop = s.stop
			}
			continue
		}
		if joinableGap(src[last.stop:s.start]) {
			last.stop = s.stop
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// joinableGap reports whether the bytes between two text runs are plain
// whitespace with at most one newline. Two or more newlines separate
// blocks; any other byte is markup that must survive reassembly.
func joinableGap(gap []byte) bool {
	newlines := 0
	for _, b := range gap {
		switch b {
		case '\n':
			newlines++
		case ' ', '\t', '\r':
		default:
			return false
		}
	}
	return newlines <= 1
}

func (m *Markdown) translateSegment(ctx context.Context, segment, targetLang, sourceLang string) string {
	chunks := m.splitOversized(segment)
	if len(chunks) == 1 {
		return m.translateChunk(ctx, segment, targetLang, sourceLang)
	}

	var out strings.Builder
	for _, chunk := range chunks {
		out.WriteString(m.translateChunk(ctx, chunk, targetLang, sourceLang))
	}
	return out.String()
}

// translateChunk translates one piece of text, falling back to the
// original on failure.
func (m *Markdown) translateChunk(ctx context.Context, chunk, targetLang, sourceLang string) string {
	result, err := m.svc.Translate(ctx, arktrans.TranslationRequest{
		Text:       chunk,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	})
	if err != nil {
		m.logger.Warn("segment translation failed, keeping original",
			"segment_bytes", len(chunk), "error", err)
		return chunk
	}
	return result.Translation
}

// splitOversized breaks a text run whose estimate exceeds the per-request
// input budget into sentence-aligned chunks, grouped greedily up to the
// byte equivalent of the budget. A run without sentence boundaries is
// returned whole.
func (m *Markdown) splitOversized(segment string) []string {
	if arktrans.EstimateTokens(segment) <= m.maxInputTokens {
		return []string{segment}
	}

	idxs := sentenceRe.FindAllStringIndex(segment, -1)
	if len(idxs) == 0 {
		return []string{segment}
	}

	var parts []string
	prev := 0
	for _, ix := range idxs {
		if ix[0] > prev {
			parts = append(parts, segment[prev:ix[0]])
		}
		parts = append(parts, segment[ix[0]:ix[1]])
		prev = ix[1]
	}
	if prev < len(segment) {
		parts = append(parts, segment[prev:])
	}

	maxBytes := m.maxInputTokens * 4
	var chunks []string
	var cur strings.Builder
	for _, p := range parts {
		if cur.Len() > 0 && cur.Len()+len(p) > maxBytes {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

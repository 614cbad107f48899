// Package answer turns retrieved fragments into a cited answer.
package answer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

type Synthesizer struct {
	llm Completer
	cfg config.AnswerConfig
}

func NewSynthesizer(llm Completer, cfg config.AnswerConfig) *Synthesizer {
	return &Synthesizer{llm: llm, cfg: cfg}
}

// Answer asks the model once and post-processes its reply. A summary reply
// with the wrong sentence count is replaced by the no-info text.
func (s *Synthesizer) Answer(ctx context.Context, question string, fragments []models.ContextFragment, c models.AnswerConstraints) (string, error) {
	raw, err := s.llm.Complete(ctx, s.BuildMessages(question, fragments, c))
	if err != nil {
		return "", err
	}

	output := RepairCitations(strings.TrimSpace(raw))
	if output == s.cfg.NoInfoText {
		return output, nil
	}

	if c.Mode == models.ModeSummary && c.ExactSentences > 0 {
		if got := len(SplitSentences(output)); got != c.ExactSentences {
			log.Debug().Int("want", c.ExactSentences).Int("got", got).Msg("Summary sentence count mismatch")
			return s.cfg.NoInfoText, nil
		}
	}

	if HasCitation(output) {
		return output, nil
	}
	cited := AutoCite(output, len(s.limit(fragments)))
	if cited == "" {
		return s.cfg.NoInfoText, nil
	}
	return cited, nil
}

// BuildMessages renders the system rules and the numbered fragments.
func (s *Synthesizer) BuildMessages(question string, fragments []models.ContextFragment, c models.AnswerConstraints) []models.Message {
	var rule string
	if c.Mode == models.ModeSummary {
		rule = fmt.Sprintf("Exactly %d sentences.", c.ExactSentences)
	} else {
		rule = fmt.Sprintf("Answer %d to %d sentences.", c.MinSentences, c.MaxSentences)
	}

	blocks := make([]string, 0, len(fragments))
	for _, f := range s.limit(fragments) {
		header := fmt.Sprintf("[%d] %s page %d", f.SourceID, f.Metadata.Filename, f.Metadata.Page)
		blocks = append(blocks, header+"\n"+Clip(f.Text, s.cfg.MaxContextChars))
	}

	return []models.Message{
		{Role: models.RoleSystem, Content: fmt.Sprintf(models.SystemPromptTemplate, s.cfg.NoInfoText, rule)},
		{Role: models.RoleUser, Content: fmt.Sprintf(models.UserPromptTemplate,
			strings.Join(strings.Fields(question), " "),
			strings.Join(blocks, models.ContextSeparator))},
	}
}

func (s *Synthesizer) limit(fragments []models.ContextFragment) []models.ContextFragment {
	if s.cfg.MaxContexts > 0 && len(fragments) > s.cfg.MaxContexts {
		return fragments[:s.cfg.MaxContexts]
	}
	return fragments
}

// Clip collapses whitespace and cuts text to limit characters, marking the cut.
func Clip(text string, limit int) string {
	value := strings.Join(strings.Fields(text), " ")
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit])) + models.ClipMarker
}

// SplitSentences splits after '.', '!' or '?' followed by whitespace.
func SplitSentences(text string) []string {
	value := strings.Join(strings.Fields(text), " ")
	if value == "" {
		return nil
	}

	var sentences []string
	start := 0
	var prev rune
	for i, r := range value {
		if r == ' ' && (prev == '.' || prev == '!' || prev == '?') {
			sentences = append(sentences, value[start:i])
			start = i + 1
		}
		prev = r
	}
	if start < len(value) {
		sentences = append(sentences, value[start:])
	}
	return sentences
}

// RepairCitations rewrites bracket citations such as "[n 3]", "[NR3]" or
// "[ 3 ]" to "[3]". Other bracketed text is left alone.
func RepairCitations(text string) string {
	var b strings.Builder
	for {
		end := strings.IndexByte(text, ']')
		if end < 0 {
			break
		}
		open := strings.LastIndexByte(text[:end], '[')
		if open < 0 {
			b.WriteString(text[:end+1])
			text = text[end+1:]
			continue
		}
		b.WriteString(text[:open])
		if n, ok := citationNumber(text[open+1 : end]); ok {
			b.WriteString("[" + n + "]")
		} else {
			b.WriteString(text[open : end+1])
		}
		text = text[end+1:]
	}
	b.WriteString(text)
	return b.String()
}

func citationNumber(inner string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(inner))
	switch {
	case strings.HasPrefix(s, "nr"):
		s = s[2:]
	case strings.HasPrefix(s, "n"):
		s = s[1:]
	}
	s = strings.TrimSpace(s)
	return s, isDigits(s)
}

// HasCitation reports whether text contains a canonical "[<digits>]".
func HasCitation(text string) bool {
	for {
		open := strings.IndexByte(text, '[')
		if open < 0 {
			return false
		}
		text = text[open+1:]
		end := strings.IndexByte(text, ']')
		if end < 0 {
			return false
		}
		if isDigits(text[:end]) {
			return true
		}
	}
}

// AutoCite appends a citation to every sentence, cycling through
// 1..max(1, sources). It returns "" when text has no sentences.
func AutoCite(text string, sources int) string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	n := max(1, sources)
	for i, s := range sentences {
		sentences[i] = s + " [" + strconv.Itoa(i%n+1) + "]"
	}
	return strings.Join(sentences, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

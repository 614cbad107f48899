package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"pdf-rag/internal/config"
)

var spaceReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\t", " ",
	"\u00a0", " ",
	"\u202f", " ",
	"\u2007", " ",
	"\u2009", " ",
	"\u00ad", "",
)

// Normalizer cleans raw extracted page text. It is safe for concurrent use.
type Normalizer struct {
	diacritics map[rune]struct{}
	stopwords  map[string]struct{}
}

func NewNormalizer(cfg config.NormalizerConfig) *Normalizer {
	n := &Normalizer{
		diacritics: make(map[rune]struct{}, len(cfg.Diacritics)),
		stopwords:  make(map[string]struct{}, len(cfg.Stopwords)),
	}
	for _, d := range cfg.Diacritics {
		if r, _ := utf8.DecodeRuneInString(d); r != utf8.RuneError {
			n.diacritics[r] = struct{}{}
		}
	}
	for _, w := range cfg.Stopwords {
		n.stopwords[strings.ToLower(w)] = struct{}{}
	}
	return n
}

// Normalize returns the cleaned form of raw. A pass is repeated until it no
// longer changes the text, so Normalize(Normalize(x)) == Normalize(x). After
// the first pass every pass only removes characters, which bounds the loop.
func (n *Normalizer) Normalize(raw string) string {
	text := raw
	for {
		next := n.pass(text)
		if next == text {
			return next
		}
		text = next
	}
}

func (n *Normalizer) pass(raw string) string {
	if raw == "" {
		return ""
	}

	lines := strings.Split(spaceReplacer.Replace(raw), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(collapseSpaces(line))
	}

	lines = joinHyphenated(lines)

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(n.repairKerning(line), " ")
		// at most one blank line in a row
		if line == "" && len(out) > 0 && out[len(out)-1] == "" {
			continue
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

func collapseSpaces(line string) string {
	for strings.Contains(line, "  ") {
		line = strings.ReplaceAll(line, "  ", " ")
	}
	return line
}

// joinHyphenated rejoins words split as "docu-" / "ment" across lines. Both
// halves need at least two letters.
func joinHyphenated(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if len(out) > 0 {
			prev := out[len(out)-1]
			if endsWithHyphenatedWord(prev) && leadingLetters(line) >= 2 {
				out[len(out)-1] = strings.TrimSuffix(prev, "-") + line
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

func endsWithHyphenatedWord(line string) bool {
	if !strings.HasSuffix(line, "-") {
		return false
	}
	rest := strings.TrimSuffix(line, "-")
	count := 0
	for count < 2 {
		r, size := utf8.DecodeLastRuneInString(rest)
		if size == 0 || !unicode.IsLetter(r) {
			return false
		}
		rest = rest[:len(rest)-size]
		count++
	}
	return true
}

func leadingLetters(line string) int {
	count := 0
	for _, r := range line {
		if !unicode.IsLetter(r) {
			break
		}
		count++
	}
	return count
}

// repairKerning rejoins words that PDF extraction split with spurious
// spaces. Lines shorter than four tokens are left alone.
func (n *Normalizer) repairKerning(line string) string {
	tokens := strings.Fields(line)
	if len(tokens) < 4 {
		return line
	}

	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		if !isLetters(tokens[i]) {
			out = append(out, tokens[i])
			i++
			continue
		}

		end := i
		for end < len(tokens) && isLetters(tokens[end]) {
			end++
		}
		run := tokens[i:end]
		if n.shouldJoin(run) {
			out = append(out, strings.Join(run, ""))
		} else {
			out = append(out, strings.Join(run, " "))
		}
		i = end
	}

	return strings.Join(out, " ")
}

func (n *Normalizer) shouldJoin(run []string) bool {
	switch {
	case len(run) >= 4:
		singles := 0
		for _, t := range run {
			if runeLen(t) == 1 {
				singles++
			}
		}
		return singles*2 >= len(run)
	case len(run) == 3:
		return runeLen(run[1]) == 1
	case len(run) == 2:
		if runeLen(run[0]) < 2 || runeLen(run[1]) > 3 {
			return false
		}
		if _, stop := n.stopwords[strings.ToLower(run[0])]; stop {
			return false
		}
		first, _ := utf8.DecodeRuneInString(run[1])
		_, ok := n.diacritics[first]
		return ok
	}
	return false
}

func isLetters(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Package document turns crawled pages into embedded, upserted chunks.
package document

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Splitter cuts text into pieces of at most a configured number of runes.
type Splitter interface {
	Split(text string) []string
}

// Chunking strategies.
const (
	StrategyRecursive = "recursive"
	StrategyMarkdown  = "markdown"
)

// NewSplitter returns the splitter for strategy.
func NewSplitter(strategy string, size, overlap int) (Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0")
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d)", size)
	}
	rec := RecursiveSplitter{Size: size, Overlap: overlap}
	switch strategy {
	case "", StrategyRecursive:
		return rec, nil
	case StrategyMarkdown:
		return MarkdownSplitter{Recursive: rec}, nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
	}
}

var defaultSeparators = []string{"\n\n", "\n", ". ", " "}

// RecursiveSplitter splits on paragraph, line, sentence and word
// boundaries in turn, falling back to runes, then merges neighbours back
// up to Size with Overlap runes carried between chunks.
type RecursiveSplitter struct {
	Size    int
	Overlap int
}

// Split implements Splitter.
func (r RecursiveSplitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	for _, piece := range r.split(text, defaultSeparators) {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func (r RecursiveSplitter) split(text string, seps []string) []string {
	if runeLen(text) <= r.Size {
		return []string{text}
	}
	sep, rest := "", []string(nil)
	for i, s := range seps {
		if strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}
	if sep == "" {
		return r.splitRunes(text)
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if runeLen(piece) <= r.Size {
			good = append(good, piece)
			continue
		}
		out = append(out, r.merge(good, sep)...)
		good = nil
		out = append(out, r.split(piece, rest)...)
	}
	return append(out, r.merge(good, sep)...)
}

// merge joins pieces up to Size, starting each new chunk with the tail of
// the previous one up to Overlap runes.
func (r RecursiveSplitter) merge(pieces []string, sep string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	sepLen := runeLen(sep)
	joinedLen := func(extra int) int {
		n := total + extra
		if len(current) > 0 {
			n += sepLen
		}
		return n
	}
	for _, piece := range pieces {
		n := runeLen(piece)
		if len(current) > 0 && joinedLen(n) > r.Size {
			out = append(out, strings.Join(current, sep))
			for len(current) > 0 && (total > r.Overlap || joinedLen(n) > r.Size) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, piece)
		total += n
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, sep))
	}
	return out
}

func (r RecursiveSplitter) splitRunes(text string) []string {
	runes := []rune(text)
	step := r.Size - r.Overlap
	if step <= 0 {
		step = r.Size
	}
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+r.Size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// MarkdownSplitter splits on headings and prefixes each chunk with its
// heading path. Oversized sections go through the recursive splitter.
type MarkdownSplitter struct {
	Recursive RecursiveSplitter
}

type section struct {
	path []string
	body strings.Builder
}

// Split implements Splitter.
func (m MarkdownSplitter) Split(text string) []string {
	var (
		sections []*section
		headings []string
		levels   []int
	)
	cur := &section{}
	flush := func() {
		if strings.TrimSpace(cur.body.String()) != "" {
			sections = append(sections, cur)
		}
	}
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if level, title, ok := heading(trimmed); ok && !inFence {
			flush()
			for len(levels) > 0 && levels[len(levels)-1] >= level {
				levels = levels[:len(levels)-1]
				headings = headings[:len(headings)-1]
			}
			levels = append(levels, level)
			headings = append(headings, title)
			cur = &section{path: append([]string(nil), headings...)}
			continue
		}
		cur.body.WriteString(line)
		cur.body.WriteByte('\n')
	}
	flush()

	var out []string
	for _, s := range sections {
		body := strings.TrimSpace(s.body.String())
		prefix := ""
		if len(s.path) > 0 {
			prefix = strings.Join(s.path, " > ") + "\n\n"
		}
		budget := m.Recursive.Size - runeLen(prefix)
		if budget < m.Recursive.Size/2 {
			// Very long heading paths still leave room for content.
			prefix, budget = "", m.Recursive.Size
		}
		if runeLen(body) <= budget {
			out = append(out, prefix+body)
			continue
		}
		inner := RecursiveSplitter{Size: budget, Overlap: min(m.Recursive.Overlap, budget-1)}
		for _, piece := range inner.Split(body) {
			out = append(out, prefix+piece)
		}
	}
	return out
}

func heading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	title := strings.TrimSpace(strings.TrimRight(line[level:], "#"))
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// EstimateTokens approximates tokens as runes/3, at least 1 for non-empty text.
func EstimateTokens(text string) int {
	n := runeLen(text)
	if n == 0 {
		return 0
	}
	return max(n/3, 1)
}

package document

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestNewSplitter(t *testing.T) {
	t.Parallel()

	s, err := NewSplitter("", 100, 10)
	require.NoError(t, err)
	require.IsType(t, RecursiveSplitter{}, s)

	s, err = NewSplitter(StrategyMarkdown, 100, 10)
	require.NoError(t, err)
	require.IsType(t, MarkdownSplitter{}, s)

	_, err = NewSplitter("semantic", 100, 10)
	require.Error(t, err)
	_, err = NewSplitter(StrategyRecursive, 100, 100)
	require.Error(t, err)
	_, err = NewSplitter(StrategyRecursive, 0, 0)
	require.Error(t, err)
}

func TestRecursiveSplitterShortText(t *testing.T) {
	t.Parallel()

	s := RecursiveSplitter{Size: 100, Overlap: 10}
	require.Equal(t, []string{"hello world"}, s.Split("  hello world \n"))
	require.Nil(t, s.Split("   "))
}

func TestRecursiveSplitterPrefersParagraphs(t *testing.T) {
	t.Parallel()

	s := RecursiveSplitter{Size: 30, Overlap: 0}
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird one."
	require.Equal(t, []string{
		"First paragraph here.",
		"Second paragraph here.",
		"Third one.",
	}, s.Split(text))
}

func TestRecursiveSplitterRespectsSizeAndOverlap(t *testing.T) {
	t.Parallel()

	s := RecursiveSplitter{Size: 20, Overlap: 8}
	words := strings.Fields("alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu")
	chunks := s.Split(strings.Join(words, " "))
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 20, c)
	}
	// Each chunk starts with a word carried over from the previous one.
	for i := 1; i < len(chunks); i++ {
		require.Contains(t, strings.Fields(chunks[i-1]), strings.Fields(chunks[i])[0])
	}
	// Nothing is lost.
	joined := strings.Join(chunks, " ")
	for _, w := range words {
		require.Contains(t, joined, w)
	}
}

func TestRecursiveSplitterFallsBackToRunes(t *testing.T) {
	t.Parallel()

	s := RecursiveSplitter{Size: 4, Overlap: 1}
	require.Equal(t, []string{"abcd", "defg", "ghij"}, s.Split("abcdefghij"))

	multi := RecursiveSplitter{Size: 3, Overlap: 0}
	require.Equal(t, []string{"日本語", "テキス", "ト"}, multi.Split("日本語テキスト"))
}

func TestMarkdownSplitterKeepsHeadingPath(t *testing.T) {
	t.Parallel()

	s := MarkdownSplitter{Recursive: RecursiveSplitter{Size: 200, Overlap: 0}}
	text := strings.Join([]string{
		"Intro text.",
		"# Guide",
		"Guide body.",
		"## Install",
		"Run the installer.",
		"```",
		"# not a heading",
		"```",
		"## Configure",
		"Edit the file.",
		"# Reference",
		"Ref body.",
	}, "\n")

	chunks := s.Split(text)
	require.Equal(t, []string{
		"Intro text.",
		"Guide\n\nGuide body.",
		"Guide > Install\n\nRun the installer.\n```\n# not a heading\n```",
		"Guide > Configure\n\nEdit the file.",
		"Reference\n\nRef body.",
	}, chunks)
}

func TestMarkdownSplitterSplitsLongSections(t *testing.T) {
	t.Parallel()

	s := MarkdownSplitter{Recursive: RecursiveSplitter{Size: 40, Overlap: 0}}
	body := strings.Repeat("word ", 30)
	chunks := s.Split("# Title\n" + body)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.True(t, strings.HasPrefix(c, "Title\n\n"), c)
		require.LessOrEqual(t, utf8.RuneCountInString(c), 40)
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	require.Zero(t, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("ab"))
	require.Equal(t, 3, EstimateTokens("123456789"))
}

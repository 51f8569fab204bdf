package store

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestOutcomeClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		outcome Outcome
		want    Status
		indexed int
	}{
		{"all pages", Outcome{PagesProcessed: 10}, StatusSuccess, 10},
		{"some failed", Outcome{PagesProcessed: 7, FailedPages: 3, Errors: []string{"a", "b", "c"}}, StatusPartialSuccess, 7},
		{"none succeeded", Outcome{FailedPages: 10, Errors: []string{"x"}}, StatusFailed, 0},
		{"nothing fetched", Outcome{}, StatusFailed, 0},
		{"crawl error", Outcome{PagesProcessed: 2, Err: errors.New("index missing")}, StatusFailed, 0},
		{"timed out cleanly", Outcome{PagesProcessed: 1, TimedOut: true}, StatusPartialSuccess, 1},
		{"timed out empty", Outcome{TimedOut: true}, StatusFailed, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.outcome.Classify())
			require.Equal(t, tc.indexed, tc.outcome.PagesIndexed())
		})
	}
}

func TestOutcomeErrorMessage(t *testing.T) {
	t.Parallel()

	require.Nil(t, Outcome{PagesProcessed: 3}.ErrorMessage())

	msg := Outcome{FailedPages: 2, Errors: []string{"a", "b"}}.ErrorMessage()
	require.NotNil(t, msg)
	require.Equal(t, "a; b", *msg)

	msg = Outcome{}.ErrorMessage()
	require.NotNil(t, msg)
	require.NotEmpty(t, *msg)

	msg = Outcome{PagesProcessed: 1, Err: errors.New("boom"), Errors: []string{"a"}}.ErrorMessage()
	require.Equal(t, "boom; a", *msg)
}

func TestOutcomeErrorMessageKeepsTimeout(t *testing.T) {
	t.Parallel()

	timedOut := Outcome{
		PagesProcessed: 1,
		TimedOut:       true,
		Errors:         []string{"crawl timed out after 5m0s with 2 pages abandoned"},
	}
	require.Equal(t, StatusPartialSuccess, timedOut.Classify())
	msg := timedOut.ErrorMessage()
	require.NotNil(t, msg)
	require.Equal(t, "crawl timed out after 5m0s with 2 pages abandoned", *msg)

	msg = Outcome{PagesProcessed: 4, TimedOut: true}.ErrorMessage()
	require.NotNil(t, msg)
	require.Equal(t, "crawl timed out", *msg)
}

func TestCondenseErrors(t *testing.T) {
	t.Parallel()

	require.Empty(t, CondenseErrors(nil))
	require.Equal(t, "a; b; c (+2 more)", CondenseErrors([]string{"a", "b", "c", "d", "e"}))

	long := CondenseErrors([]string{strings.Repeat("é", 800)})
	require.Equal(t, 500, utf8.RuneCountInString(long))
	require.True(t, strings.HasSuffix(long, "…"))
}

func TestPatchApply(t *testing.T) {
	t.Parallel()

	cfg := URLConfig{URL: "https://a.example", Namespace: "docs", IsActive: true}
	require.True(t, Patch{}.Empty())

	inactive := false
	ns := "kb"
	p := Patch{Namespace: &ns, IsActive: &inactive}
	require.False(t, p.Empty())
	p.Apply(&cfg)
	require.Equal(t, "kb", cfg.Namespace)
	require.False(t, cfg.IsActive)
	require.Equal(t, "https://a.example", cfg.URL)
}

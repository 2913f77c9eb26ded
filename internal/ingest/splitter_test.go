package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	t.Parallel()

	s := NewSplitter(100, 20)
	require.Equal(t, []string{"hello world"}, s.SplitText("  hello world  "))
	require.Empty(t, s.SplitText("   \n\n  "))
}

func TestSplitTextPrefersParagraphs(t *testing.T) {
	t.Parallel()

	s := NewSplitter(30, 0)
	text := "first paragraph here\n\nsecond paragraph here\n\nthird"
	require.Equal(t, []string{
		"first paragraph here",
		"second paragraph here\n\nthird",
	}, s.SplitText(text))
}

func TestSplitTextRespectsSizeAndOverlap(t *testing.T) {
	t.Parallel()

	s := NewSplitter(50, 10)
	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	chunks := s.SplitText(strings.Join(words, " "))
	require.Greater(t, len(chunks), 10)
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 50)
	}
	// consecutive chunks share a trailing word
	require.True(t, strings.HasPrefix(chunks[1], "word"))
	require.True(t, strings.HasSuffix(chunks[0], "word"))
}

func TestSplitTextFallsBackToCharacters(t *testing.T) {
	t.Parallel()

	s := NewSplitter(10, 0)
	chunks := s.SplitText(strings.Repeat("x", 25))
	require.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
}

func TestSplitIndexesAndFiltersBlank(t *testing.T) {
	t.Parallel()

	s := NewSplitter(20, 0)
	docs := []Document{
		{Source: "a", Content: "alpha beta gamma delta epsilon", Metadata: map[string]string{"k": "v"}},
		{Source: "b", Content: "   "},
		{Source: "c", Content: "zeta"},
	}
	chunks := s.Split(docs)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
		require.NotEmpty(t, strings.TrimSpace(c.Content))
	}
	require.Equal(t, "c", chunks[2].Source)
	require.Equal(t, "v", chunks[0].Metadata["k"])

	chunks[0].Metadata["k"] = "changed"
	require.Equal(t, "v", docs[0].Metadata["k"])
}

func TestNewSplitterNormalizesParameters(t *testing.T) {
	t.Parallel()

	s := NewSplitter(0, -5)
	require.Equal(t, DefaultChunkSize, s.size)
	require.Zero(t, s.overlap)

	s = NewSplitter(10, 10)
	require.Less(t, s.overlap, s.size)
}

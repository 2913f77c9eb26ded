package ingest

import (
	"maps"
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, measured in characters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter breaks text into overlapping chunks, preferring paragraph breaks,
// then line breaks, then spaces, and finally single characters.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// NewSplitter builds a Splitter. Non-positive size selects the default; the
// overlap is capped below size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Splitter{size: size, overlap: overlap, separators: defaultSeparators}
}

// Split chunks every document and drops chunks that are blank. Chunk indexes
// are assigned across the whole batch.
func (s *Splitter) Split(docs []Document) []Chunk {
	var out []Chunk
	for _, doc := range docs {
		for _, piece := range s.SplitText(doc.Content) {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			meta := maps.Clone(doc.Metadata)
			if meta == nil {
				meta = map[string]string{}
			}
			out = append(out, Chunk{
				Source:   doc.Source,
				Index:    len(out),
				Content:  piece,
				Metadata: meta,
			})
		}
	}
	return out
}

// SplitText chunks a single string.
func (s *Splitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep, rest := separators[len(separators)-1], []string(nil)
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep, rest = candidate, separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, fitting []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if runeLen(piece) <= s.size {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting, sep)...)
			fitting = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting, sep)...)
	}
	return out
}

// merge packs pieces into chunks of at most size characters, carrying up to
// overlap characters from the end of one chunk into the next.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n+joinLen() > s.size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
				out = append(out, chunk)
			}
			for total > s.overlap || (total+n+joinLen() > s.size && total > 0) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		total += n + joinLen()
		current = append(current, piece)
	}
	if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

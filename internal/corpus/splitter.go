package corpus

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators prefer paragraph breaks, then line breaks. Space and the
// empty separator only apply to text that has no line break within a chunk.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text recursively on the first separator present, merging
// the pieces back into chunks of at most Size runes that share up to
// Overlap runes with their predecessor. Separators stay attached to the
// start of the piece that follows them.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

func NewSplitter(size, overlap int) *Splitter {
	if overlap >= size {
		overlap = size / 5
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Span is a chunk of text with its rune offset in the source text.
type Span struct {
	Text   string
	Offset int
}

// SplitSpans splits text and locates every chunk in it. Offset is -1 when a
// chunk cannot be found verbatim, which only happens after whitespace
// trimming inside merged pieces.
func (s *Splitter) SplitSpans(text string) []Span {
	chunks := s.Split(text)
	spans := make([]Span, 0, len(chunks))
	from, prev := 0, -1
	for _, c := range chunks {
		if prev >= 0 {
			from = prev + 1
		}
		idx := -1
		if from <= len(text) {
			if i := strings.Index(text[from:], c); i >= 0 {
				idx = from + i
			}
		}
		if idx < 0 {
			spans = append(spans, Span{Text: c, Offset: -1})
			continue
		}
		prev = idx
		spans = append(spans, Span{Text: c, Offset: utf8.RuneCountInString(text[:idx])})
	}
	return spans
}

func (s *Splitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := ""
	var next []string
	if len(separators) > 0 {
		separator = separators[len(separators)-1]
	}
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeep(text, separator) {
		if runeLen(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			if t := strings.TrimSpace(piece); t != "" {
				out = append(out, t)
			}
		} else {
			out = append(out, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge joins consecutive pieces into chunks. Pieces already carry their
// separator, so they are concatenated as is.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.Overlap || (total+n > s.Size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeep splits text on sep and glues each separator to the piece after
// it. An empty separator splits into runes. Empty pieces are dropped.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

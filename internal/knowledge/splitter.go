package knowledge

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order, from paragraph to word boundaries.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Splitter cuts text into chunks of at most ChunkSize runes, preferring the
// coarsest separator that occurs in the text and recursing into pieces that
// are still too long. Consecutive chunks share up to Overlap runes.
//
// A piece with none of the separators is kept whole even when it exceeds
// ChunkSize.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap, separators: DefaultSeparators}
}

// Split returns the non-empty, whitespace-trimmed chunks of text.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, c := range separators {
		if strings.Contains(text, c) {
			sep = c
			rest = separators[i+1:]
			break
		}
	}

	var out, short []string
	for _, piece := range splitKeepingSeparator(text, sep) {
		if runeLen(piece) < s.chunkSize {
			short = append(short, piece)
			continue
		}
		if len(short) > 0 {
			out = append(out, s.merge(short)...)
			short = nil
		}
		if len(rest) == 0 {
			if t := strings.TrimSpace(piece); t != "" {
				out = append(out, t)
			}
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(short) > 0 {
		out = append(out, s.merge(short)...)
	}
	return out
}

// merge packs consecutive pieces into chunks, carrying a tail of up to
// overlap runes into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var chunks, window []string
	total := 0
	emit := func() {
		if t := strings.TrimSpace(strings.Join(window, "")); t != "" {
			chunks = append(chunks, t)
		}
	}
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.chunkSize && len(window) > 0 {
			emit()
			for len(window) > 0 && (total > s.overlap || total+n > s.chunkSize) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if len(window) > 0 {
		emit()
	}
	return chunks
}

// splitKeepingSeparator splits text on sep and attaches each separator to the
// start of the piece that follows it.
func splitKeepingSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

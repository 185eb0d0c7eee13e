package parser

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order, from paragraph breaks down to single characters
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Split breaks text into chunks of at most chunkSize runes using recursive separator splitting.
// Each piece keeps its trailing separator, so joining the chunks (with overlap removed) gives back text.
// When chunkOverlap > 0 every chunk after the first is prefixed with the last chunkOverlap runes of the
// chunk before it. An overlap larger than chunkSize is not normalized.
func Split(text string, chunkSize, chunkOverlap int, separators ...string) []string {
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	if text == "" {
		return []string{""}
	}
	if chunkSize <= 0 {
		return []string{text}
	}

	chunks := splitRecursive(text, chunkSize, separators)
	return applyOverlap(chunks, chunkOverlap)
}

func splitRecursive(text string, chunkSize int, separators []string) []string {
	if len(separators) == 0 {
		return []string{text}
	}
	sep, rest := separators[0], separators[1:]

	pieces := splitKeepSeparator(text, sep)
	if len(pieces) <= 1 {
		return splitRecursive(text, chunkSize, rest)
	}

	var chunks []string
	var buf strings.Builder
	bufLen := 0
	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if bufLen+pieceLen <= chunkSize {
			buf.WriteString(piece)
			bufLen += pieceLen
			continue
		}

		if bufLen > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufLen = 0
		}

		if pieceLen > chunkSize {
			chunks = append(chunks, splitRecursive(piece, chunkSize, rest)...)
			continue
		}
		buf.WriteString(piece)
		bufLen = pieceLen
	}
	if bufLen > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// splitKeepSeparator splits text after each separator; an empty separator splits into runes
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	pieces := strings.SplitAfter(text, sep)
	if n := len(pieces); n > 0 && pieces[n-1] == "" {
		pieces = pieces[:n-1]
	}
	return pieces
}

// overlap is computed against the original chunks, never cascaded
func applyOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		out[i] = lastRunes(chunks[i-1], overlap) + chunks[i]
	}
	return out
}

// StripOverlap removes the prefixes added by Split and returns the original chunks
func StripOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prefix := utf8.RuneCountInString(lastRunes(out[i-1], overlap))
		out[i] = dropRunes(chunks[i], prefix)
	}
	return out
}

func lastRunes(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	return dropRunes(s, count-n)
}

func dropRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[i:]
		}
		n--
	}
	return ""
}

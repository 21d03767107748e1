// Package chunking splits extracted text into paragraph and word bounded
// chunks sized for embedding.
package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"preik/internal/models"
)

const (
	DefaultMaxChars = 1000
	paragraphSep    = "\n\n"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n`)

// Options controls chunk sizes. Sizes are counted in runes. Overlap is kept
// below half of MaxChars.
type Options struct {
	MaxChars int
	Overlap  int
}

func (o Options) normalized() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if limit := max(o.MaxChars/2-1, 0); o.Overlap > limit {
		o.Overlap = limit
	}
	return o
}

// Split breaks text into chunks of at most opts.MaxChars runes. Paragraphs are
// packed greedily; a paragraph that cannot fit on its own is split on word
// boundaries, and a word that cannot fit is cut on rune boundaries.
func Split(text string, opts Options) []string {
	opts = opts.normalized()
	text = strings.ReplaceAll(text, "\r\n", "\n")

	b := builder{opts: opts}
	for _, para := range blankLines.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) <= opts.MaxChars {
			b.add(para, paragraphSep)
			continue
		}
		for i, piece := range splitWords(para, opts.MaxChars) {
			sep := " "
			if i == 0 {
				sep = paragraphSep
			}
			b.add(piece, sep)
		}
	}
	b.flush()
	return b.chunks
}

// SplitPages chunks every page and numbers the chunks across the document
func SplitPages(pages []models.Page, opts Options) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		for _, content := range Split(page.Content, opts) {
			chunks = append(chunks, models.Chunk{
				Content:    content,
				PageNumber: page.Number,
				ChunkID:    len(chunks) + 1,
			})
		}
	}
	return chunks
}

type builder struct {
	opts    Options
	chunks  []string
	current strings.Builder
	size    int
}

// add appends piece to the current chunk, joined by sep, or starts a new chunk
// when it does not fit
func (b *builder) add(piece, sep string) {
	n := runeLen(piece)
	if b.size > 0 && b.size+len(sep)+n <= b.opts.MaxChars {
		b.current.WriteString(sep)
		b.current.WriteString(piece)
		b.size += len(sep) + n
		return
	}

	var seed string
	if b.size > 0 {
		seed = overlapTail(b.current.String(), b.opts.Overlap)
		b.flush()
	}
	if seed != "" && runeLen(seed)+1+n <= b.opts.MaxChars {
		b.current.WriteString(seed)
		b.current.WriteString(" ")
		b.size = runeLen(seed) + 1
	}
	b.current.WriteString(piece)
	b.size += n
}

func (b *builder) flush() {
	if chunk := strings.TrimSpace(b.current.String()); chunk != "" {
		b.chunks = append(b.chunks, chunk)
	}
	b.current.Reset()
	b.size = 0
}

// splitWords packs the words of s into pieces of at most max runes
func splitWords(s string, max int) []string {
	var (
		pieces  []string
		current strings.Builder
		size    int
	)
	emit := func() {
		if size > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			size = 0
		}
	}

	for _, word := range strings.Fields(s) {
		n := runeLen(word)
		if n > max {
			emit()
			pieces = append(pieces, splitRunes(word, max)...)
			continue
		}
		if size > 0 && size+1+n > max {
			emit()
		}
		if size > 0 {
			current.WriteByte(' ')
			size++
		}
		current.WriteString(word)
		size += n
	}
	emit()
	return pieces
}

func splitRunes(s string, max int) []string {
	runes := []rune(s)
	pieces := make([]string, 0, len(runes)/max+1)
	for start := 0; start < len(runes); start += max {
		end := min(start+max, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// overlapTail returns the trailing whole words of s that fit in max runes
func overlapTail(s string, max int) string {
	if max <= 0 {
		return ""
	}
	words := strings.Fields(s)
	size := 0
	i := len(words)
	for i > 0 {
		n := runeLen(words[i-1])
		if size > 0 {
			n++
		}
		if size+n > max {
			break
		}
		size += n
		i--
	}
	return strings.Join(words[i:], " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

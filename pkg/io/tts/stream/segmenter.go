package stream

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	minChunkChars    = 3
	minSentenceChars = 3 // exclusive
	minNewlineChars  = 3 // exclusive
	clauseTrigger    = 20
	clauseMinPrefix  = 15
	minClauseChars   = 5 // exclusive
	forcedTrigger    = 120
	forcedWindow     = 100
	forcedMinOffset  = 30 // exclusive
	minForcedChars   = 10 // exclusive
	minFlushChars    = 5  // exclusive
)

// Chunk is one speakable piece of a reply. Ordinals restart at zero each
// turn and never skip.
type Chunk struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Buffer carries unsegmented text between deltas. The zero value is an
// empty buffer for a new turn.
type Buffer struct {
	Pending  string
	Thinking bool
	Next     int
}

// Segment appends delta to buf and extracts every chunk that is ready.
// Reasoning wrapped in <think> tags never reaches a chunk; text in front
// of a reasoning block is treated as a boundary.
func Segment(buf Buffer, delta string) ([]Chunk, Buffer) {
	var out []Chunk
	p := buf.Pending + delta

	for {
		i := strings.Index(p, thinkOpen)
		if i < 0 {
			break
		}
		var left string
		out, buf, left = buf.extract(out, p[:i])
		if runeLen(strings.TrimSpace(left)) >= minChunkChars {
			out, buf = buf.emit(out, left)
			left = ""
		}

		body := p[i+len(thinkOpen):]
		j := strings.Index(body, thinkClose)
		if j < 0 {
			buf.Pending = left + p[i:]
			buf.Thinking = true
			return out, buf
		}
		p = left + body[j+len(thinkClose):]
	}

	p = strings.ReplaceAll(p, thinkClose, "")
	speak, held := splitPartialTag(p)

	var left string
	out, buf, left = buf.extract(out, speak)
	buf.Pending = left + held
	buf.Thinking = false
	return out, buf
}

// Flush ends the turn. Whatever speakable text remains becomes a final
// chunk when it is long enough; unfinished reasoning is dropped.
func Flush(buf Buffer) ([]Chunk, Buffer) {
	p := buf.Pending
	if i := strings.Index(p, thinkOpen); i >= 0 {
		p = p[:i]
	}
	p = strings.ReplaceAll(p, thinkClose, "")

	var out []Chunk
	if runeLen(strings.TrimSpace(p)) > minFlushChars {
		out, buf = buf.emit(out, p)
	}
	buf.Pending = ""
	buf.Thinking = false
	return out, buf
}

// StripThinking removes reasoning from text meant for display, including
// an unterminated block at the end.
func StripThinking(text string) string {
	var b strings.Builder
	for {
		i := strings.Index(text, thinkOpen)
		if i < 0 {
			break
		}
		b.WriteString(text[:i])
		rest := text[i+len(thinkOpen):]
		j := strings.Index(rest, thinkClose)
		if j < 0 {
			text = ""
			break
		}
		text = rest[j+len(thinkClose):]
	}
	b.WriteString(text)
	return strings.ReplaceAll(b.String(), thinkClose, "")
}

// Visible is the display form of a reply that is still streaming. A
// trailing fragment that may turn into a tag is held back, so successive
// results for a growing reply only ever extend each other.
func Visible(text string) string {
	s, _ := splitPartialTag(StripThinking(text))
	return s
}

func (buf Buffer) emit(out []Chunk, text string) ([]Chunk, Buffer) {
	text = strings.TrimSpace(text)
	if runeLen(text) < minChunkChars {
		return out, buf
	}
	out = append(out, Chunk{Ordinal: buf.Next, Text: text})
	buf.Next++
	return out, buf
}

// extract applies the boundary rules until none match and returns the
// unconsumed remainder.
func (buf Buffer) extract(out []Chunk, s string) ([]Chunk, Buffer, string) {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		text, rest, ok := nextChunk(s)
		if !ok {
			return out, buf, s
		}
		out, buf = buf.emit(out, text)
		s = rest
	}
}

func nextChunk(s string) (string, string, bool) {
	if text, rest, ok := sentenceBreak(s); ok {
		return text, rest, true
	}
	if text, rest, ok := newlineBreak(s); ok {
		return text, rest, true
	}
	if text, rest, ok := clauseBreak(s); ok {
		return text, rest, true
	}
	return forcedBreak(s)
}

// sentenceBreak takes the shortest prefix ending in terminal punctuation
// that is long enough to speak. A run like "?!" or `..."` stays together,
// and punctuation glued to a following character (3.14, e.g.) is skipped.
func sentenceBreak(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if !isTerminal(s[i]) {
			continue
		}
		end := i + 1
		for end < len(s) && (isTerminal(s[end]) || isCloser(s[end])) {
			end++
		}
		if !boundaryAt(s, end) {
			i = end - 1
			continue
		}
		if runeLen(strings.TrimSpace(s[:end])) > minSentenceChars {
			return s[:end], s[end:], true
		}
		i = end - 1
	}
	return "", s, false
}

func newlineBreak(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' || i <= 3 {
			continue
		}
		if runeLen(strings.TrimSpace(s[:i])) > minNewlineChars {
			return s[:i], s[i+1:], true
		}
	}
	return "", s, false
}

func clauseBreak(s string) (string, string, bool) {
	if runeLen(s) <= clauseTrigger {
		return "", s, false
	}
	for i := 0; i < len(s); i++ {
		if !isClause(s[i]) || runeLen(s[:i]) < clauseMinPrefix {
			continue
		}
		if !boundaryAt(s, i+1) {
			continue
		}
		if runeLen(strings.TrimSpace(s[:i+1])) > minClauseChars {
			return s[:i+1], s[i+1:], true
		}
	}
	return "", s, false
}

// forcedBreak splits long unpunctuated text at the last space inside the
// window. Without a usable space nothing is emitted and the text waits.
func forcedBreak(s string) (string, string, bool) {
	r := []rune(s)
	if len(r) <= forcedTrigger {
		return "", s, false
	}
	limit := forcedWindow
	if limit >= len(r) {
		limit = len(r) - 1
	}
	at := -1
	for k := limit; k >= 0; k-- {
		if r[k] == ' ' {
			at = k
			break
		}
	}
	if at <= forcedMinOffset {
		return "", s, false
	}
	text := string(r[:at])
	if runeLen(strings.TrimSpace(text)) <= minForcedChars {
		return "", s, false
	}
	return text, string(r[at:]), true
}

// splitPartialTag holds back a trailing fragment that could still grow
// into a think tag.
func splitPartialTag(s string) (string, string) {
	for n := len(thinkClose) - 1; n > 0; n-- {
		if n > len(s) {
			continue
		}
		tail := s[len(s)-n:]
		if strings.HasPrefix(thinkOpen, tail) || strings.HasPrefix(thinkClose, tail) {
			return s[:len(s)-n], tail
		}
	}
	return s, ""
}

func boundaryAt(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return unicode.IsSpace(r)
}

func isTerminal(c byte) bool { return c == '.' || c == '!' || c == '?' }

func isCloser(c byte) bool { return c == '"' || c == '\'' || c == ')' || c == ']' || c == '*' }

func isClause(c byte) bool { return c == ',' || c == ';' || c == ':' }

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// Package dispatch splits long replies into transport-sized chunks and sends
// them in order.
package dispatch

import (
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)
	wordGap     = regexp.MustCompile(`\s+`)
)

// LengthFunc measures text the way a transport counts its message limit.
type LengthFunc func(string) int

// RuneLength counts Unicode code points.
func RuneLength(s string) int { return utf8.RuneCountInString(s) }

// UTF16Length counts UTF-16 code units, so characters outside the Basic
// Multilingual Plane count twice. Telegram measures its limits this way.
func UTF16Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r) // invalid bytes decode as U+FFFD, one unit
	}
	return n
}

// levels are tried in order for pieces longer than the limit.
var levels = []func(string) []string{
	func(s string) []string { return splitAfter(s, "\n\n") },
	func(s string) []string { return splitAfterMatches(s, sentenceEnd) },
	func(s string) []string { return splitAfterMatches(s, wordGap) },
}

// SplitMessage splits text into chunks of at most maxLength runes, keeping
// whole lines together where possible. Concatenating the chunks yields text.
// maxLength <= 0 disables splitting.
func SplitMessage(text string, maxLength int) []string {
	return SplitMessageFunc(text, maxLength, RuneLength)
}

// SplitMessageFunc is SplitMessage with chunk sizes measured by length.
func SplitMessageFunc(text string, maxLength int, length LengthFunc) []string {
	if text == "" {
		return nil
	}
	if length == nil {
		length = RuneLength
	}
	if maxLength <= 0 || length(text) <= maxLength {
		return []string{text}
	}
	return pack(splitAfter(text, "\n"), maxLength, length, func(s string) []string {
		return SplitTextFunc(s, maxLength, length)
	})
}

// SplitText splits text without regard for lines: by paragraph, then
// sentence, then word, cutting inside a word only as a last resort.
func SplitText(text string, maxLength int) []string {
	return SplitTextFunc(text, maxLength, RuneLength)
}

// SplitTextFunc is SplitText with chunk sizes measured by length.
func SplitTextFunc(text string, maxLength int, length LengthFunc) []string {
	if text == "" {
		return nil
	}
	if length == nil {
		length = RuneLength
	}
	if maxLength <= 0 || length(text) <= maxLength {
		return []string{text}
	}
	return splitLevel(text, maxLength, length, 0)
}

func splitLevel(text string, maxLength int, length LengthFunc, level int) []string {
	if level >= len(levels) {
		return hardSplit(text, maxLength, length)
	}
	return pack(levels[level](text), maxLength, length, func(s string) []string {
		return splitLevel(s, maxLength, length, level+1)
	})
}

// pack greedily joins consecutive pieces while they fit and hands oversize
// pieces to split.
func pack(pieces []string, maxLength int, length LengthFunc, split func(string) []string) []string {
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, p := range pieces {
		n := length(p)
		if n > maxLength {
			flush()
			chunks = append(chunks, split(p)...)
			continue
		}
		if curLen+n > maxLength {
			flush()
		}
		cur.WriteString(p)
		curLen += n
	}
	flush()
	return chunks
}

func splitAfter(s, sep string) []string {
	parts := strings.SplitAfter(s, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

func splitAfterMatches(s string, re *regexp.Regexp) []string {
	var out []string
	start := 0
	for _, m := range re.FindAllStringIndex(s, -1) {
		if m[1] > start {
			out = append(out, s[start:m[1]])
			start = m[1]
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// hardSplit cuts between runes. A chunk always takes at least one rune, so
// a single rune wider than maxLength still makes progress.
func hardSplit(s string, maxLength int, length LengthFunc) []string {
	var out []string
	for s != "" {
		cut, used := 0, 0
		for cut < len(s) {
			_, size := utf8.DecodeRuneInString(s[cut:])
			w := length(s[cut : cut+size])
			if cut > 0 && used+w > maxLength {
				break
			}
			cut += size
			used += w
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return out
}

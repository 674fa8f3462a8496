// Package relevance scores textual similarity between chat messages.
//
// Scores are bag-of-words cosine similarities over a light normalization
// (lowercase, punctuation stripped, single-rune tokens dropped). They are
// cheap enough to run on every inbound message.
package relevance

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ContextDecayWindow is the age at which ContextSimilarity reaches zero.
const ContextDecayWindow = 5 * time.Minute

// Tokenize normalizes text and returns its tokens in order.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			return unicode.ToLower(r)
		case r == '_', r == '\'', r == '-':
			return r
		default:
			return ' '
		}
	}, text)

	fields := strings.Fields(cleaned)
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

type termVector map[string]float64

func vectorize(text string) termVector {
	v := make(termVector)
	for _, tok := range Tokenize(text) {
		v[tok]++
	}
	return v
}

func (v termVector) dot(o termVector) float64 {
	// iterate the smaller map
	if len(o) < len(v) {
		v, o = o, v
	}
	var sum float64
	for term, n := range v {
		sum += n * o[term]
	}
	return sum
}

func (v termVector) magnitude() float64 {
	var sum float64
	for _, n := range v {
		sum += n * n
	}
	return math.Sqrt(sum)
}

// Similarity returns the cosine similarity of a and b in [0,1].
// It is 0 when either text has no tokens.
func Similarity(a, b string) float64 {
	va, vb := vectorize(a), vectorize(b)
	magA, magB := va.magnitude(), vb.magnitude()
	if magA == 0 || magB == 0 {
		return 0
	}
	return clamp(va.dot(vb) / (magA * magB))
}

// TripleSimilarity compares three texts and rewards the single strongest
// pairwise relation: the largest pairwise dot product divided by the largest
// pairwise magnitude product. An empty c falls back to Similarity(a, b).
//
// This is not a normalized cosine of any one pair. The max/max form is what
// the interest thresholds were tuned against, so keep it unless the
// thresholds are retuned as well.
func TripleSimilarity(a, b, c string) float64 {
	if c == "" {
		return Similarity(a, b)
	}
	va, vb, vc := vectorize(a), vectorize(b), vectorize(c)
	magA, magB, magC := va.magnitude(), vb.magnitude(), vc.magnitude()
	if magA == 0 || magB == 0 || magC == 0 {
		return 0
	}

	num := max(va.dot(vb), vb.dot(vc), va.dot(vc))
	den := max(magA*magB, magB*magC, magA*magC)
	return clamp(num / den)
}

// TimeWeight is the linear decay applied to context scores:
// 1 at zero elapsed, 0 at ContextDecayWindow and beyond.
func TimeWeight(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Max(0, 1-float64(elapsed)/float64(ContextDecayWindow))
}

// ContextSimilarity scores the current message against the prior thread
// message and the agent's own last utterance, weighted down by how long ago
// the thread was active.
func ContextSimilarity(current, prior, ownLast string, elapsed time.Duration) float64 {
	w := TimeWeight(elapsed)
	if w == 0 {
		return 0
	}
	return TripleSimilarity(current, prior, ownLast) * w
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

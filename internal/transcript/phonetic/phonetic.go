// Package phonetic repairs speech-to-text errors in a small, fixed
// vocabulary (the host's name, show jargon) before transcript messages are
// classified.
//
// Each word of a message is compared against the vocabulary in two stages:
//
//  1. Double Metaphone codes of the word and the vocabulary entry must
//     overlap.
//  2. The Jaro-Winkler similarity of the two (case-insensitive) must reach
//     the configured threshold.
//
// Words passing both stages are replaced by the vocabulary entry; everything
// else, including punctuation around the word, is left as-is.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold = 0.80
	defaultMinLength = 3
)

// Option is a functional option for [New].
type Option func(*Normalizer)

// WithThreshold sets the minimum Jaro-Winkler score for a replacement.
// Default: 0.80.
func WithThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		if threshold > 0 && threshold <= 1 {
			n.threshold = threshold
		}
	}
}

// WithMinLength sets the shortest word (in runes) considered for
// replacement. Default: 3.
func WithMinLength(runes int) Option {
	return func(n *Normalizer) {
		if runes > 0 {
			n.minLength = runes
		}
	}
}

// Replacement records one substitution made by [Normalizer.Replace].
type Replacement struct {
	Original   string
	Corrected  string
	Confidence float64
}

type entry struct {
	word  string
	lower string
	codes map[string]struct{}
}

// Normalizer rewrites words that sound like a vocabulary entry.
// It is read-only after construction and safe for concurrent use.
type Normalizer struct {
	threshold float64
	minLength int
	vocab     []entry
}

// New returns a [Normalizer] for the given single-word vocabulary. Empty and
// multi-word entries are skipped.
func New(vocabulary []string, opts ...Option) *Normalizer {
	n := &Normalizer{
		threshold: defaultThreshold,
		minLength: defaultMinLength,
	}
	for _, o := range opts {
		o(n)
	}
	for _, w := range vocabulary {
		w = strings.TrimSpace(w)
		if w == "" || strings.ContainsFunc(w, unicode.IsSpace) {
			continue
		}
		lower := strings.ToLower(w)
		n.vocab = append(n.vocab, entry{word: w, lower: lower, codes: codes(lower)})
	}
	return n
}

// Normalize returns text with phonetically close words replaced.
func (n *Normalizer) Normalize(text string) string {
	out, _ := n.Replace(text)
	return out
}

// Replace returns the normalised text together with every replacement made.
func (n *Normalizer) Replace(text string) (string, []Replacement) {
	if len(n.vocab) == 0 || text == "" {
		return text, nil
	}

	var (
		b    strings.Builder
		reps []Replacement
	)
	b.Grow(len(text))

	// Walk maximal runs of letters/digits; copy everything else verbatim.
	start := -1
	flush := func(end int) {
		word := text[start:end]
		if best, conf, ok := n.match(word); ok {
			b.WriteString(best)
			reps = append(reps, Replacement{Original: word, Corrected: best, Confidence: conf})
		} else {
			b.WriteString(word)
		}
		start = -1
	}
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		isWord := r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
		switch {
		case isWord && start < 0:
			start = i
		case !isWord && start >= 0:
			flush(i)
			b.WriteString(text[i : i+size])
		case !isWord:
			// Byte copy keeps invalid UTF-8 as received.
			b.WriteString(text[i : i+size])
		}
		i += size
	}
	if start >= 0 {
		flush(len(text))
	}
	if len(reps) == 0 {
		return text, nil
	}
	return b.String(), reps
}

// match finds the best vocabulary entry for word. Exact (case-insensitive)
// matches are not reported as replacements.
func (n *Normalizer) match(word string) (string, float64, bool) {
	if len([]rune(word)) < n.minLength {
		return "", 0, false
	}
	lower := strings.ToLower(word)
	wc := codes(lower)

	var (
		best  string
		score float64
	)
	for _, e := range n.vocab {
		if lower == e.lower {
			return "", 0, false
		}
		if !overlap(wc, e.codes) {
			continue
		}
		if s := matchr.JaroWinkler(lower, e.lower, false); s >= n.threshold && s > score {
			best, score = e.word, s
		}
	}
	return best, score, best != ""
}

// codes returns the non-empty Double Metaphone codes of word.
func codes(word string) map[string]struct{} {
	set := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		set[p] = struct{}{}
	}
	if s != "" {
		set[s] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

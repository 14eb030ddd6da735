// Package dedup filters text emitted from overlapping rolling-window ASR
// calls so repeated phrases are not committed twice.
package dedup

import (
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

const (
	defaultHistoryDepth = 8
	defaultNgram        = 5
	defaultTailChars    = 200
	hashOverlapDrop     = 0.85
	hashOverlapTrim     = 0.40
	subsequenceRatio    = 0.90
	subsequenceLenRatio = 1.10
)

// Deduper is a pure filter: it never returns an error, only a possibly
// empty or trimmed string.
type Deduper struct {
	historyDepth int
	ngram        int
	tailChars    int

	hashes  []uint64
	lastRaw []string // recent committed finals, most recent last
}

// Option configures a Deduper at construction.
type Option func(*Deduper)

func WithHistoryDepth(n int) Option { return func(d *Deduper) { d.historyDepth = n } }
func WithNgram(n int) Option        { return func(d *Deduper) { d.ngram = n } }

// New builds a Deduper with the default thresholds.
func New(opts ...Option) *Deduper {
	d := &Deduper{
		historyDepth: defaultHistoryDepth,
		ngram:        defaultNgram,
		tailChars:    defaultTailChars,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result is what the caller should emit, if anything.
type Result struct {
	Text    string
	Dropped bool
}

// Dedupe applies the four-stage filter (exact hash, n-gram overlap,
// fuzzy subsequence, history commit) and, if the text survives (wholly
// or trimmed), records it as committed so later calls can detect overlap
// against it.
func (d *Deduper) Dedupe(text string) Result {
	norm := normalize(text)
	if norm == "" {
		return Result{Dropped: true}
	}

	h := hash64(norm)
	for _, prior := range d.hashes {
		if prior == h {
			return Result{Dropped: true}
		}
	}

	tail := d.tail()
	if tail != "" {
		overlap := ngramOverlapRatio(norm, tail, d.ngram)
		if overlap >= hashOverlapDrop {
			return Result{Dropped: true}
		}
		if overlap >= hashOverlapTrim {
			trimmed := trimLeadingOverlap(norm, tail, d.ngram)
			if trimmed == "" {
				return Result{Dropped: true}
			}
			d.commit(trimmed, h)
			return Result{Text: trimmed}
		}
	}

	if last := d.lastCommitted(); last != "" {
		if isSubsequence(norm, last) {
			return Result{Dropped: true}
		}
	}

	d.commit(norm, h)
	return Result{Text: norm}
}

// commit records the surviving text in the recency history used for
// hash-exact and subsequence comparisons in future calls.
func (d *Deduper) commit(norm string, h uint64) {
	d.hashes = append(d.hashes, h)
	if len(d.hashes) > d.historyDepth {
		d.hashes = d.hashes[len(d.hashes)-d.historyDepth:]
	}
	d.lastRaw = append(d.lastRaw, norm)
	if len(d.lastRaw) > d.historyDepth {
		d.lastRaw = d.lastRaw[len(d.lastRaw)-d.historyDepth:]
	}
}

func (d *Deduper) lastCommitted() string {
	if len(d.lastRaw) == 0 {
		return ""
	}
	return d.lastRaw[len(d.lastRaw)-1]
}

// tail returns up to tailChars of the concatenated recent committed text.
func (d *Deduper) tail() string {
	joined := strings.Join(d.lastRaw, " ")
	if len(joined) <= d.tailChars {
		return joined
	}
	return joined[len(joined)-d.tailChars:]
}

// normalize lowercases, collapses whitespace, and strips non-word runes
// from both ends.
func normalize(s string) string {
	s = strings.ToLower(s)
	fields := strings.Fields(s)
	s = strings.Join(fields, " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func words(s string) []string {
	return strings.Fields(s)
}

// ngramOverlapRatio computes the fraction of a's n-grams that also occur
// in b, used as a proxy for "how much of this new text already appeared
// at the tail of committed text".
func ngramOverlapRatio(a, b string, n int) float64 {
	aGrams := ngramSet(words(a), n)
	bGrams := ngramSet(words(b), n)
	if len(aGrams) == 0 || len(bGrams) == 0 {
		return 0
	}
	matches := 0
	for g := range aGrams {
		if bGrams[g] {
			matches++
		}
	}
	return float64(matches) / float64(len(aGrams))
}

func ngramSet(tokens []string, n int) map[string]bool {
	set := make(map[string]bool)
	if len(tokens) < n {
		if len(tokens) > 0 {
			set[strings.Join(tokens, " ")] = true
		}
		return set
	}
	for i := 0; i+n <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+n], " ")] = true
	}
	return set
}

// trimLeadingOverlap removes the leading words of a that n-gram-overlap
// with the tail b, returning only the new remainder.
func trimLeadingOverlap(a, b string, n int) string {
	aWords := words(a)
	bGrams := ngramSet(words(b), n)

	cut := 0
	for i := 0; i+n <= len(aWords); i++ {
		gram := strings.Join(aWords[i:i+n], " ")
		if bGrams[gram] {
			cut = i + n
		} else {
			break
		}
	}
	if cut >= len(aWords) {
		return ""
	}
	return strings.Join(aWords[cut:], " ")
}

// isSubsequence reports whether a is, within tolerance, a strict
// subsequence of b: close by edit distance and not meaningfully longer.
func isSubsequence(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	lenRatio := float64(len(a)) / float64(len(b))
	if lenRatio >= subsequenceLenRatio {
		return false
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return false
	}
	ratio := 1.0 - float64(dist)/float64(maxLen)
	return ratio >= subsequenceRatio
}

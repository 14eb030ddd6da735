package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupe_FirstCallAlwaysPasses(t *testing.T) {
	d := New()
	r := d.Dedupe("hello there")
	require.False(t, r.Dropped)
	require.Equal(t, "hello there", r.Text)
}

func TestDedupe_ExactRepeatDropped(t *testing.T) {
	d := New()
	d.Dedupe("the quick brown fox jumps over the lazy dog")

	r := d.Dedupe("the quick brown fox jumps over the lazy dog")
	require.True(t, r.Dropped)
}

func TestDedupe_EmptyAfterNormalizationDropped(t *testing.T) {
	d := New()
	r := d.Dedupe("   ...   ")
	require.True(t, r.Dropped)
}

func TestDedupe_OverlappingWindowTrimsLeadingRepeat(t *testing.T) {
	d := New()
	d.Dedupe("the quick brown fox jumps over the lazy dog")

	// simulates a second rolling-window ASR call whose window overlapped
	// the tail of the first: same leading words, new trailing words.
	r := d.Dedupe("the quick brown fox jumps over the lazy dog and runs away")
	require.False(t, r.Dropped)
	require.Equal(t, "and runs away", r.Text)
}

func TestDedupe_NearDuplicateSubsequenceDropped(t *testing.T) {
	d := New()
	d.Dedupe("angular momentum")

	// short enough that it has no 5-gram in common with the prior commit
	// (so the n-gram trim/drop stages don't fire), but is a near-identical
	// re-recognition by edit distance of the whole phrase.
	r := d.Dedupe("anguler momentum")
	require.True(t, r.Dropped)
}

func TestDedupe_UnrelatedTextNeverDropped(t *testing.T) {
	d := New()
	d.Dedupe("the weather is nice today")

	r := d.Dedupe("completely different topic about quarterly revenue numbers")
	require.False(t, r.Dropped)
}

func TestDedupe_HistoryDepthBounded(t *testing.T) {
	d := New(WithHistoryDepth(2))
	d.Dedupe("first utterance goes here")
	d.Dedupe("second utterance goes here")
	d.Dedupe("third utterance goes here")

	require.LessOrEqual(t, len(d.hashes), 2)
	require.LessOrEqual(t, len(d.lastRaw), 2)
}

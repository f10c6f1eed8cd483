package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHash_MatchesSHA256OfCanonicalForm(t *testing.T) {
	sum := sha256.Sum256([]byte("ev-1|track-1|8.880000|0.888000|demo_abc"))
	want := hex.EncodeToString(sum[:])

	assert.Equal(t, want, EventHash("ev-1", "track-1", 8.88, 0.888, "demo_abc"))
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("x", 1.5, int64(42), true)
	b := Hash("x", 1.5, int64(42), true)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCanonical_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, Canonical("a", "b"), Canonical(" a ", "b\n"))
}

func TestCanonical_FloatPrecisionIsFixed(t *testing.T) {
	// 0.1+0.2 prints as 0.30000000000000004 with %v.
	assert.Equal(t, Canonical(0.3), Canonical(0.1+0.2))
	assert.Equal(t, "0.300000", Canonical(0.1+0.2))
}

func TestCanonical_NilAndEmptyTxHashAreUnverified(t *testing.T) {
	var missing *string
	assert.Equal(t, "unverified", Canonical(nil))
	assert.Equal(t, "unverified", Canonical(missing))
	assert.Equal(t, EventHash("e", "t", 1, 1, ""), EventHash("e", "t", 1, 1, "  "))
}

func TestCanonical_TimeIsUTC(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	ts := time.Date(2026, 1, 2, 15, 4, 5, 999, loc)
	assert.Equal(t, "2026-01-02T12:04:05Z", Canonical(ts))
}

func TestReceiptHash_DependsOnItemOrder(t *testing.T) {
	a := ReceiptHash("p", "artist", 550, "demo_1", []string{"e1", "e2"})
	b := ReceiptHash("p", "artist", 550, "demo_1", []string{"e2", "e1"})
	assert.NotEqual(t, a, b)
}

func TestTrackHash_ChangesWithTxHash(t *testing.T) {
	assert.NotEqual(t,
		TrackHash("t1", "Song", "Artist", ""),
		TrackHash("t1", "Song", "Artist", "0xabc"),
	)
}

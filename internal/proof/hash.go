// Package proof produces deterministic SHA-256 fingerprints over stable
// identifiers for settlement receipts and compliance reports.
package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	separator  = "|"
	unverified = "unverified"

	// floatPrecision fixes numeric formatting so digests do not depend on
	// platform float printing.
	floatPrecision = 6
)

// Hash returns the hex SHA-256 digest of the canonical form of fields.
func Hash(fields ...any) string {
	sum := sha256.Sum256([]byte(Canonical(fields...)))
	return hex.EncodeToString(sum[:])
}

// Canonical renders fields as the string that Hash digests.
func Canonical(fields ...any) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = canonicalField(f)
	}
	return strings.Join(parts, separator)
}

func canonicalField(f any) string {
	switch v := f.(type) {
	case nil:
		return unverified
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil || strings.TrimSpace(*v) == "" {
			return unverified
		}
		return strings.TrimSpace(*v)
	case float64:
		return strconv.FormatFloat(v, 'f', floatPrecision, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', floatPrecision, 64)
	case *float64:
		if v == nil {
			return unverified
		}
		return strconv.FormatFloat(*v, 'f', floatPrecision, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = strings.TrimSpace(s)
		}
		return strings.Join(out, ",")
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// EventHash fingerprints a royalty event and the transfer that paid it.
func EventHash(eventID, trackID string, amount, confidence float64, txHash string) string {
	return Hash(eventID, trackID, amount, confidence, orUnverified(txHash))
}

// TrackHash fingerprints a track's verification state.
func TrackHash(trackID, title, artist, txHash string) string {
	return Hash(trackID, title, artist, orUnverified(txHash))
}

// ReceiptHash fingerprints a settled payout. Event ids are hashed in the
// order given; callers pass them in item order.
func ReceiptHash(payoutID, artistID string, amountCents int64, txHash string, eventIDs []string) string {
	return Hash(payoutID, artistID, amountCents, orUnverified(txHash), eventIDs)
}

func orUnverified(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

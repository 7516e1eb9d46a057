// Package keys builds cache keys for region statistics.
package keys

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const namespace = "zs"

// Key identifies the statistics of one region on one raster version.
// The fingerprint is kept readable but truncated; the hash covers the full
// fingerprint and the sorted statistic names.
func Key(rasterID string, version uint64, band int, strategy, fingerprint string, stats []string) string {
	names := append([]string(nil), stats...)
	sort.Strings(names)
	material := fingerprint + "|" + strings.Join(names, ",")

	fpSafe := sanitizeForKey(strings.TrimSpace(fingerprint))
	const maxFingerprintLen = 96
	if len(fpSafe) > maxFingerprintLen {
		fpSafe = fpSafe[:maxFingerprintLen]
	}

	sum := xxhash.Sum64String(material)
	return fmt.Sprintf("%sv%d:b%d:%s:%s:f=%016x",
		Prefix(rasterID), version, band, sanitizeForKey(strategy), fpSafe, sum)
}

// Prefix is shared by every key of rasterID.
func Prefix(rasterID string) string {
	return namespace + ":" + sanitizeForKey(rasterID) + ":"
}

// IndexKey names the set listing the keys stored for rasterID.
func IndexKey(rasterID string) string {
	return namespace + ":idx:" + sanitizeForKey(rasterID)
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '=' || r == '.' || r == ',' || r == '/':
			out = r
		default:
			// Any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}

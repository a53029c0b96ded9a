package kbfile

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxSlugLen = 50

// Slugify lowercases s, keeps alphanumerics and hyphens, collapses
// whitespace/punctuation runs to a single hyphen, trims leading/trailing
// hyphens, and truncates to maxSlugLen. Slugify(Slugify(x)) == Slugify(x)
// for every x, since the output alphabet is already fixed-point.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxSlugLen {
		cut := maxSlugLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.Trim(out[:cut], "-")
	}
	if out == "" {
		return "untitled"
	}
	return out
}

// FileName builds the canonical <YYYY-MM-DD>-<slug>.md name for a note
// created at t with the given title.
func FileName(t time.Time, title string) string {
	return t.Format("2006-01-02") + "-" + Slugify(title) + ".md"
}

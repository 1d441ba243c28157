// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package openssl

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/matthewpi/revocation/internal/ocsp"
)

// VerifyOK is the only verification output that makes a status trustworthy.
const VerifyOK = "Response verify OK"

// Result is what could be read from the output of an `openssl ocsp` query.
type Result struct {
	// Status is Unknown unless a status line was found.
	Status ocsp.CertStatus
	// Matched reports whether a status line was found at all.
	Matched bool
	// Warning holds the "WARNING: ..." preamble openssl prints before the
	// status when the response is outside of its validity window.
	Warning string
	// Verified reports whether openssl verified the response signature.
	Verified bool

	ThisUpdate time.Time
	NextUpdate time.Time
	RevokedAt  time.Time

	// Output and Errors are the raw text the result was parsed from.
	Output string
	Errors string
}

// statusPatterns match what follows "<label>: ". unknown takes precedence
// over good, which takes precedence over revoked, if somehow more than one
// of them is present.
var statusPatterns = []struct {
	status ocsp.CertStatus
	re     *regexp.Regexp
}{
	{ocsp.Unknown, regexp.MustCompile(`(?s)^(WARNING.*)?unknown`)},
	{ocsp.Good, regexp.MustCompile(`(?s)^(WARNING.*)?good`)},
	{ocsp.Revoked, regexp.MustCompile(`(?s)^(WARNING.*)?revoked`)},
}

// ParseStatus parses the status text openssl writes to stdout for the
// certificate at label, and the verification text it writes to stderr.
//
// The status line is "<label>: good|revoked|unknown". openssl may put a
// "WARNING: Status times invalid." preamble between the label and the status,
// the status is still extracted in that case and the preamble returned as
// Result.Warning. Output without a status line results in Unknown.
func ParseStatus(label, output, verify string) Result {
	r := Result{
		Status:   ocsp.Unknown,
		Verified: strings.TrimSpace(verify) == VerifyOK,
		Output:   output,
		Errors:   verify,
	}

	var after []string
	prefix := label + ": "
	for rest := output; ; {
		i := strings.Index(rest, prefix)
		if i < 0 {
			break
		}
		rest = rest[i+len(prefix):]
		after = append(after, rest)
	}

match:
	for _, p := range statusPatterns {
		for _, rest := range after {
			m := p.re.FindStringSubmatch(rest)
			if m == nil {
				continue
			}
			r.Status = p.status
			r.Matched = true
			r.Warning = strings.TrimSpace(m[1])
			break match
		}
	}

	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ": ")
		if !ok {
			continue
		}
		var dst *time.Time
		switch key {
		case "This Update":
			dst = &r.ThisUpdate
		case "Next Update":
			dst = &r.NextUpdate
		case "Revocation Time":
			dst = &r.RevokedAt
		default:
			continue
		}
		if t, ok := ParseTimestamp(value); ok && dst.IsZero() {
			*dst = t
		}
	}
	return r
}

// Times are the timestamps of an OCSP response as printed by
// `openssl ocsp -resp_text`. A zero value means the field was absent.
type Times struct {
	ProducedAt time.Time
	ThisUpdate time.Time
	NextUpdate time.Time
}

// ParseTimes reads the "Produced At", "This Update" and "Next Update" lines
// out of a textual OCSP response. Next Update is optional; if either of the
// other two are missing the text is considered unparsable and zero Times
// are returned.
func ParseTimes(text string) Times {
	var t Times
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ": ")
		if !ok {
			continue
		}
		var dst *time.Time
		switch key {
		case "Produced At":
			dst = &t.ProducedAt
		case "This Update":
			dst = &t.ThisUpdate
		case "Next Update":
			dst = &t.NextUpdate
		default:
			continue
		}
		if ts, ok := ParseTimestamp(value); ok && dst.IsZero() {
			*dst = ts
		}
	}
	if t.ProducedAt.IsZero() || t.ThisUpdate.IsZero() {
		return Times{}
	}
	return t
}

// openssl always prints English month abbreviations regardless of locale.
var months = map[string]time.Month{
	"Jan": time.January,
	"Feb": time.February,
	"Mar": time.March,
	"Apr": time.April,
	"May": time.May,
	"Jun": time.June,
	"Jul": time.July,
	"Aug": time.August,
	"Sep": time.September,
	"Oct": time.October,
	"Nov": time.November,
	"Dec": time.December,
}

var timestampRE = regexp.MustCompile(`^([A-Z][a-z]{2}) +(\d{1,2}) (\d{2}):(\d{2}):(\d{2}) (\d{4}) GMT$`)

// ParseTimestamp parses an openssl ASN1_TIME rendering such as
// "Dec 20 18:00:00 2016 GMT" or "Apr  6 00:00:00 2016 GMT" into a UTC time.
func ParseTimestamp(s string) (time.Time, bool) {
	m := timestampRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, false
	}
	month, ok := months[m[1]]
	if !ok {
		return time.Time{}, false
	}

	// The regexp guarantees these are all digits.
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	second, _ := strconv.Atoi(m[5])
	year, _ := strconv.Atoi(m[6])
	if day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, hour, minute, second, 0, time.UTC)
	if t.Day() != day {
		// Feb 30 and friends.
		return time.Time{}, false
	}
	return t, true
}

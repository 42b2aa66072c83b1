// Package fingerprint derives deterministic identities for creative requests
// and for the solutions stored under them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spboyer/kinetic/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of a request: text is NFC-normalized,
// case-folded and whitespace-collapsed, style constraints become a sorted set,
// and the target duration is truncated to whole milliseconds.
func Normalize(in models.RequestInputs) models.RequestInputs {
	out := models.RequestInputs{
		Description:    normalizeText(in.Description),
		TargetDuration: in.TargetDuration.Truncate(time.Millisecond),
	}

	for _, c := range in.StyleConstraints {
		if c = normalizeText(c); c != "" {
			out.StyleConstraints = append(out.StyleConstraints, c)
		}
	}
	slices.Sort(out.StyleConstraints)
	out.StyleConstraints = slices.Compact(out.StyleConstraints)

	return out
}

// Compute returns the hex-encoded sha256 fingerprint of the normalized request.
func Compute(in models.RequestInputs) string {
	n := Normalize(in)
	h := sha256.New()

	writeString(h, "description")
	writeString(h, n.Description)
	writeString(h, "style")
	for _, c := range n.StyleConstraints {
		writeString(h, c)
	}
	writeString(h, "duration")
	writeInt(h, n.TargetDuration.Milliseconds())

	return hex.EncodeToString(h.Sum(nil))
}

// SolutionID derives the stable id of the solution stored as version under fp.
// (fingerprint, version) is unique, so the id is too.
func SolutionID(fp string, version int) string {
	h := sha256.New()
	writeString(h, fp)
	writeInt(h, int64(version))
	return "sol_" + hex.EncodeToString(h.Sum(nil))[:24]
}

// ContentHash returns the sha256 of source code, used for byte-identical dedup.
func ContentHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Short abbreviates a fingerprint for display.
func Short(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}

func normalizeText(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// writeString writes s followed by a NUL delimiter so adjacent fields cannot
// collide ("ab"+"c" vs "a"+"bc").
func writeString(w io.Writer, s string) {
	_, _ = io.WriteString(w, s+"\x00")
}

func writeInt(w io.Writer, i int64) {
	_, _ = fmt.Fprintf(w, "%d\x00", i)
}

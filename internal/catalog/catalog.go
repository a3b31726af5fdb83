// Package catalog models the work to process: groups of SIREN numbers,
// one subscriber account per group, read from an operator-maintained
// spreadsheet. Ingestion is deliberately forgiving: a bad cell is a
// diagnostic, never a reason to drop the whole batch.
package catalog

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// SirenWidth is the fixed width of a normalized organization identifier.
const SirenWidth = 9

// Siren is a normalized organization identifier: digits only, zero
// padded to SirenWidth.
type Siren string

// Group is one named batch of SIRENs sharing a subscriber account. The
// order of Sirens is significant: checkpoints index into it.
type Group struct {
	Name       string
	Subscriber string
	Sirens     []Siren
}

// Diagnostic records one skipped cell or sheet during ingestion.
type Diagnostic struct {
	Sheet  string
	Cell   string
	Value  string
	Reason string
}

func (d Diagnostic) String() string {
	if d.Cell == "" {
		return fmt.Sprintf("%s: %s", d.Sheet, d.Reason)
	}
	return fmt.Sprintf("%s!%s: %s (%q)", d.Sheet, d.Cell, d.Reason, d.Value)
}

// Workbook is the result of one ingestion pass.
type Workbook struct {
	Groups      []Group
	Diagnostics []Diagnostic
}

// IngestionError reports a source document that could not be read at
// all. Row-level problems are Diagnostics instead.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

var digitRun = regexp.MustCompile(`\d+`)

// ExtractSubscriber pulls the subscriber number out of a free-text
// header cell such as "ABONNE 20260410001818": the first maximal run of
// digits. Returns "" when the text carries no digits.
func ExtractSubscriber(text string) string {
	return digitRun.FindString(text)
}

// NormalizeSiren coerces a raw cell value to a fixed-width identifier.
// Spreadsheets render these cells inconsistently ("123456789",
// "123456789.0", even scientific notation), so the value is parsed as a
// number and re-rendered. Non-numeric, fractional, negative and
// too-wide values are rejected.
func NormalizeSiren(raw string) (Siren, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("not a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("not a number")
	}
	if f < 0 {
		return "", fmt.Errorf("negative value")
	}
	if f != math.Trunc(f) {
		return "", fmt.Errorf("fractional value")
	}
	n := int64(f)
	if len(strconv.FormatInt(n, 10)) > SirenWidth {
		return "", fmt.Errorf("wider than %d digits", SirenWidth)
	}
	return Siren(fmt.Sprintf("%0*d", SirenWidth, n)), nil
}

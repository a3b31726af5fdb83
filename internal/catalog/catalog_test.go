package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSiren(t *testing.T) {
	cases := []struct {
		in   string
		want Siren
	}{
		{"123", "000000123"},
		{"123.0", "000000123"},
		{"000123", "000000123"},
		{" 123456789 ", "123456789"},
		{"123456789.0", "123456789"},
		{"1.23456789e8", "123456789"},
		{"0", "000000000"},
	}
	for _, tc := range cases {
		got, err := NormalizeSiren(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizeSirenRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12a3", "-5", "12.5", "1234567890", "1e10", "NaN", "Inf"} {
		_, err := NormalizeSiren(in)
		require.Error(t, err, "input %q should be rejected", in)
	}
}

func TestExtractSubscriber(t *testing.T) {
	require.Equal(t, "20260410001818", ExtractSubscriber("ABONNE 20260410001818"))
	require.Equal(t, "20260410001818", ExtractSubscriber("abonne n° 20260410001818 (cabinet)"))
	require.Equal(t, "1", ExtractSubscriber("A1B22C333"))
	require.Equal(t, "", ExtractSubscriber("aucun numero ici"))
	require.Equal(t, "", ExtractSubscriber(""))
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{Sheet: "TVA 3", Cell: "D6", Value: "abc", Reason: "not a number"}
	require.Equal(t, `TVA 3!D6: not a number ("abc")`, d.String())

	d = Diagnostic{Sheet: "TVA 9", Reason: "sheet not found"}
	require.Equal(t, "TVA 9: sheet not found", d.String())
}

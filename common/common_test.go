package common

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticsPreserveOrder(t *testing.T) {
	d := NewDiagnostics()
	d.Warnf("first %d", 1)
	d.Errorf("second")
	d.Warnf("first %d", 1)
	d.Fatalf("third")

	items := d.Items()
	require.Len(t, items, 4)
	assert.Equal(t, "first 1", items[0].Message)
	assert.Equal(t, SeverityError, items[1].Severity)
	assert.Equal(t, items[0], items[2], "duplicates are kept")
	assert.Equal(t, SeverityFatal, items[3].Severity)

	assert.Equal(t, 2, d.Count(SeverityWarning))
	assert.True(t, d.HasFatal())
	assert.Equal(t, []string{"second"}, d.Messages(SeverityError))
}

func TestDiagnosticsItemsIsCopy(t *testing.T) {
	d := NewDiagnostics()
	d.Warnf("a")
	items := d.Items()
	items[0].Message = "changed"
	assert.Equal(t, "a", d.Items()[0].Message)
}

func TestDiagnosticsJSON(t *testing.T) {
	d := NewDiagnostics()
	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))

	d.Errorf("bad RVA")
	out, err = json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"severity":"error","message":"bad RVA"}]`, string(out))
}

func TestOperationResultString(t *testing.T) {
	tests := []struct {
		name   string
		result *OperationResult
		want   string
	}{
		{"applied", NewApplied("exports", 3), "APPLIED (exports, 3 items)"},
		{"applied empty", NewApplied("tls", 0), "APPLIED (tls)"},
		{"skipped", NewSkipped("no directory"), "SKIPPED (no directory)"},
		{"failed", NewFailed("bad table", 2), "FAILED (bad table, 2 items kept)"},
		{"failed empty", NewFailed("bad table", 0), "FAILED (bad table)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.String())
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", FormatFileSize(2*1024*1024))
	assert.Equal(t, "r-x", FormatPermissions(true, true, false))
	assert.Equal(t, "---", FormatPermissions(false, false, false))
	assert.Equal(t, "abcd...", TruncateString("abcdefghij", 7))
	assert.Equal(t, "short", TruncateString("short", 7))
	assert.Equal(t, PERM_READ|PERM_EXECUTE, PermissionBits(true, true, false))
	assert.NotEqual(t, GetEntropyColor(7.9), GetEntropyColor(1.0))
}

func TestFormatDiagnosticsGroupsBySeverity(t *testing.T) {
	d := NewDiagnostics()
	d.Warnf("w1")
	d.Errorf("e1")
	d.Warnf("w2")

	out := FormatDiagnostics("ISSUES", d.Items())
	assert.Less(t, strings.Index(out, "e1"), strings.Index(out, "w1"))
	assert.Less(t, strings.Index(out, "w1"), strings.Index(out, "w2"))
	assert.Contains(t, out, "WARNING (2)")

	assert.Contains(t, FormatDiagnostics("ISSUES", nil), "No issues detected")
}

func TestHashReader(t *testing.T) {
	h, err := HashReader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", h.MD5)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", h.SHA1)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h.SHA256)
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, MatchesPattern("UPX0", []string{"UPX0"}, nil))
	assert.True(t, MatchesPattern(".aspack", nil, []string{".asp"}))
	assert.False(t, MatchesPattern(".text", []string{""}, []string{""}))
}

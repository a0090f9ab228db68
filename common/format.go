package common

import (
	"fmt"
	"strings"
)

const (
	SymbolCheck = "✅"
	SymbolWarn  = "⚠️"
	SymbolCross = "❌"
	SymbolInfo  = "ℹ️"
	SymbolFatal = "💀"

	colorReset = "\033[0m"
)

// FormatFileSize renders a byte count with a binary unit suffix.
func FormatFileSize(size int64) string {
	if size < 0 {
		return fmt.Sprintf("-%s", FormatFileSize(-size))
	}
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTP"[exp])
}

// FormatPermissions renders section access flags as an "rwx" triple.
func FormatPermissions(executable, readable, writable bool) string {
	bits := PermissionBits(executable, readable, writable)
	perms := []byte("---")
	if bits&PERM_READ != 0 {
		perms[0] = 'r'
	}
	if bits&PERM_WRITE != 0 {
		perms[1] = 'w'
	}
	if bits&PERM_EXECUTE != 0 {
		perms[2] = 'x'
	}
	return string(perms)
}

// TruncateString shortens s to at most maxLen runes, marking the cut with "...".
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// GetEntropyColor returns the terminal color escape for an entropy value.
func GetEntropyColor(entropy float64) string {
	switch {
	case entropy >= 7.5:
		return "\033[31m"
	case entropy >= 6.5:
		return "\033[33m"
	default:
		return "\033[32m"
	}
}

// ColorReset returns the escape that ends a GetEntropyColor span.
func ColorReset() string {
	return colorReset
}

// FormatDiagnostics renders diagnostics grouped by severity, most severe
// first, keeping insertion order inside each group.
func FormatDiagnostics(title string, items []Diagnostic) string {
	if len(items) == 0 {
		return fmt.Sprintf("%s\n%s No issues detected", title, SymbolCheck)
	}

	var result strings.Builder
	result.WriteString(title)
	for _, sev := range []Severity{SeverityFatal, SeverityError, SeverityWarning} {
		var group []Diagnostic
		for _, it := range items {
			if it.Severity == sev {
				group = append(group, it)
			}
		}
		if len(group) == 0 {
			continue
		}
		result.WriteString(fmt.Sprintf("\n%s %s (%d):", sev.Symbol(), strings.ToUpper(sev.String()), len(group)))
		for _, it := range group {
			result.WriteString("\n   • " + it.Message)
		}
	}
	return result.String()
}

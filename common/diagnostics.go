package common

import (
	"encoding/json"
	"fmt"
)

// Severity classifies a diagnostic.
type Severity int

const (
	// SeverityWarning marks a suspicious but legal value. It never stops a builder.
	SeverityWarning Severity = iota
	// SeverityError marks a structural violation. The owning builder stops.
	SeverityError
	// SeverityFatal marks an unreadable or unsupported header. The parse is invalid.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Symbol returns the report marker used for the severity.
func (s Severity) Symbol() string {
	switch s {
	case SeverityWarning:
		return SymbolWarn
	case SeverityError:
		return SymbolCross
	default:
		return SymbolFatal
	}
}

type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s", d.Severity.Symbol(), d.Message)
}

// Diagnostics is an ordered, append-only list of issues found while
// parsing. Items are never removed or deduplicated. It is not safe for
// concurrent use; each parse owns its own instance.
type Diagnostics struct {
	items []Diagnostic
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

func (d *Diagnostics) add(sev Severity, format string, args ...any) {
	d.items = append(d.items, Diagnostic{Severity: sev, Message: fmt.Sprintf(format, args...)})
}

func (d *Diagnostics) Warnf(format string, args ...any) {
	d.add(SeverityWarning, format, args...)
}

func (d *Diagnostics) Errorf(format string, args ...any) {
	d.add(SeverityError, format, args...)
}

func (d *Diagnostics) Fatalf(format string, args ...any) {
	d.add(SeverityFatal, format, args...)
}

// Items returns a copy of the diagnostics in insertion order.
func (d *Diagnostics) Items() []Diagnostic {
	out := make([]Diagnostic, len(d.items))
	copy(out, d.items)
	return out
}

func (d *Diagnostics) Len() int {
	return len(d.items)
}

// Count returns how many diagnostics carry the given severity.
func (d *Diagnostics) Count(sev Severity) int {
	n := 0
	for _, it := range d.items {
		if it.Severity == sev {
			n++
		}
	}
	return n
}

func (d *Diagnostics) HasFatal() bool {
	return d.Count(SeverityFatal) > 0
}

// Messages returns the messages of every diagnostic with the given severity.
func (d *Diagnostics) Messages(sev Severity) []string {
	var out []string
	for _, it := range d.items {
		if it.Severity == sev {
			out = append(out, it.Message)
		}
	}
	return out
}

func (d *Diagnostics) MarshalJSON() ([]byte, error) {
	if d.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.items)
}

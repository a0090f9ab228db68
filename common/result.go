package common

import "fmt"

// OperationResult reports how a single parsing stage went. The orchestrator
// records it but never branches on it: every stage runs regardless.
type OperationResult struct {
	Applied bool
	Failed  bool
	Message string
	Count   int // Number of items produced (exports, modules, resources, etc.)
}

// NewSkipped creates a result for a stage with nothing to do, such as an
// absent directory.
func NewSkipped(reason string) *OperationResult {
	return &OperationResult{
		Applied: false,
		Message: reason,
		Count:   0,
	}
}

// NewFailed creates a result for a stage that stopped on an error. Items
// decoded before the failure are still counted.
func NewFailed(reason string, count int) *OperationResult {
	return &OperationResult{
		Applied: false,
		Failed:  true,
		Message: reason,
		Count:   count,
	}
}

// NewApplied creates a result for a stage that completed.
func NewApplied(message string, count int) *OperationResult {
	return &OperationResult{
		Applied: true,
		Message: message,
		Count:   count,
	}
}

// String returns a human-readable representation
func (r *OperationResult) String() string {
	if r.Applied {
		if r.Count > 0 {
			return fmt.Sprintf("APPLIED (%s, %d items)", r.Message, r.Count)
		}
		return fmt.Sprintf("APPLIED (%s)", r.Message)
	}
	if r.Failed {
		if r.Count > 0 {
			return fmt.Sprintf("FAILED (%s, %d items kept)", r.Message, r.Count)
		}
		return fmt.Sprintf("FAILED (%s)", r.Message)
	}
	return fmt.Sprintf("SKIPPED (%s)", r.Message)
}

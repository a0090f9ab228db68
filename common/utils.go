package common

import (
	"strings"
)

// MatchesPattern checks if a string matches any of the given exact names or prefixes
func MatchesPattern(target string, exactNames, prefixNames []string) bool {
	for _, name := range exactNames {
		if name != "" && target == name {
			return true
		}
	}

	for _, prefix := range prefixNames {
		if prefix != "" && strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

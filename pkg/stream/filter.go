package stream

import (
	"strings"

	"github.com/modoterra/hearth/pkg/core"
)

// Filter selects log entries by facet and text. An empty facet set matches
// every value.
type Filter struct {
	Domains    []string
	Namespaces []string
	Sources    []string
	Text       string
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return len(f.Domains) == 0 && len(f.Namespaces) == 0 && len(f.Sources) == 0 && f.Text == ""
}

// Match reports whether e passes the filter.
func (f Filter) Match(e core.LogEntry) bool {
	if !inSet(f.Domains, e.Domain) || !inSet(f.Namespaces, e.Namespace) || !inSet(f.Sources, e.Source) {
		return false
	}
	if f.Text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Text))
}

func inSet(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

package proxy

import (
	"net/http"
	"sort"
)

// Table is the read-only set of rules consulted for every request. Literal
// prefixes are tried longest first; regular expression rules are tried
// afterwards in the order they were declared.
type Table struct {
	prefixes []*Rule
	patterns []*Rule
}

func NewTable(rules ...*Rule) *Table {
	table := &Table{}
	for _, rule := range rules {
		if rule.IsPattern() {
			table.patterns = append(table.patterns, rule)
		} else {
			table.prefixes = append(table.prefixes, rule)
		}
	}

	sort.SliceStable(table.prefixes, func(i, j int) bool {
		return len(table.prefixes[i].Name()) > len(table.prefixes[j].Name())
	})

	return table
}

// Lookup returns the rule that applies to req, or nil when the request
// should be handled by the default handler.
func (table *Table) Lookup(req *http.Request) *Rule {
	for _, rule := range table.prefixes {
		if rule.Match(req) {
			return rule
		}
	}
	for _, rule := range table.patterns {
		if rule.Match(req) {
			return rule
		}
	}
	return nil
}

func (table *Table) Len() int {
	return len(table.prefixes) + len(table.patterns)
}

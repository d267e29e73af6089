package domain

import (
	"fmt"
	"sort"
	"strings"
)

// VerdictStatus is the outcome of a consistency check.
type VerdictStatus string

// Verdict statuses.
const (
	VerdictConsistent    VerdictStatus = "consistent"
	VerdictMismatched    VerdictStatus = "mismatched"
	VerdictIndeterminate VerdictStatus = "indeterminate"
)

// ValueHolders lists the nodes that reported one distinct value. Absent
// means the object did not exist on those nodes.
type ValueHolders struct {
	Value  string `json:"value"`
	Absent bool   `json:"absent,omitempty"`
	Nodes  []Node `json:"nodes"`
}

// NodeFailure is a node that produced no observation.
type NodeFailure struct {
	Node   Node   `json:"node"`
	Reason string `json:"reason"`
}

// Verdict is derived on demand from observations and never stored.
type Verdict struct {
	Status VerdictStatus `json:"status"`
	// Value is the agreed value when Status is consistent.
	Value         string         `json:"value,omitempty"`
	Holders       []ValueHolders `json:"holders,omitempty"`
	NonResponding []NodeFailure  `json:"non_responding,omitempty"`
}

// Consistent reports whether the verdict passes.
func (v Verdict) Consistent() bool { return v.Status == VerdictConsistent }

// DivergentNodes returns the nodes outside the largest agreeing group. Ties
// go to the group listed first.
func (v Verdict) DivergentNodes() []Node {
	if len(v.Holders) < 2 {
		return nil
	}
	best := 0
	for i, h := range v.Holders {
		if len(h.Nodes) > len(v.Holders[best].Nodes) {
			best = i
		}
	}
	var out []Node
	for i, h := range v.Holders {
		if i != best {
			out = append(out, h.Nodes...)
		}
	}
	SortNodes(out)
	return out
}

func (v Verdict) String() string {
	switch v.Status {
	case VerdictConsistent:
		return fmt.Sprintf("consistent %q", v.Value)
	default:
		var b strings.Builder
		b.WriteString(string(v.Status))
		for _, h := range v.Holders {
			val := fmt.Sprintf("%q", h.Value)
			if h.Absent {
				val = "<absent>"
			}
			fmt.Fprintf(&b, "; %s on %s", val, joinNodes(h.Nodes))
		}
		for _, f := range v.NonResponding {
			fmt.Fprintf(&b, "; no response from %s (%s)", f.Node, f.Reason)
		}
		return b.String()
	}
}

// ColumnVerdicts maps column name to its verdict.
type ColumnVerdicts map[string]Verdict

// Inconsistent returns the sorted names of columns that did not pass.
func (c ColumnVerdicts) Inconsistent() []string {
	var out []string
	for name, v := range c {
		if !v.Consistent() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// AllConsistent reports whether every column passed.
func (c ColumnVerdicts) AllConsistent() bool {
	return len(c.Inconsistent()) == 0
}

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ",")
}

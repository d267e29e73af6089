// Package verify reads relation and column comments back from every node and
// reduces them to a Consistent, Mismatched or Indeterminate verdict.
package verify

import (
	"chdocs/internal/domain"
)

// Observation is what one node reported for one entity. Err is set when
// the node produced no observation. Present is false when the entity does
// not exist on the node, which is a value of its own.
type Observation struct {
	Node    domain.Node
	Value   string
	Present bool
	Err     error
}

type valueKey struct {
	value  string
	absent bool
}

// Reduce groups observations by distinct value. Two or more distinct values
// among responding nodes is Mismatched. Exactly one value, seen by every
// node, is Consistent. Anything else (no responses, partial responses that
// agree, or agreement on absence) is Indeterminate. Holder groups keep the
// order in which their value was first seen.
func Reduce(obs []Observation) domain.Verdict {
	var v domain.Verdict
	index := make(map[valueKey]int)

	for _, o := range obs {
		if o.Err != nil {
			v.NonResponding = append(v.NonResponding, domain.NodeFailure{Node: o.Node, Reason: o.Err.Error()})
			continue
		}
		k := valueKey{value: o.Value, absent: !o.Present}
		if k.absent {
			k.value = ""
		}
		i, ok := index[k]
		if !ok {
			i = len(v.Holders)
			index[k] = i
			v.Holders = append(v.Holders, domain.ValueHolders{Value: k.value, Absent: k.absent})
		}
		v.Holders[i].Nodes = append(v.Holders[i].Nodes, o.Node)
	}

	switch {
	case len(v.Holders) >= 2:
		v.Status = domain.VerdictMismatched
	case len(v.Holders) == 1 && len(v.NonResponding) == 0 && !v.Holders[0].Absent:
		v.Status = domain.VerdictConsistent
		v.Value = v.Holders[0].Value
	default:
		v.Status = domain.VerdictIndeterminate
	}
	return v
}

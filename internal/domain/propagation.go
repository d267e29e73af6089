package domain

import (
	"errors"
	"fmt"
	"strings"
)

// PropagationMode selects how DDL reaches every node.
type PropagationMode string

// Propagation modes.
const (
	// ModeAuto picks cluster-native when the topology and engine allow it.
	ModeAuto PropagationMode = "auto"
	// ModeClusterNative sends each statement once with ON CLUSTER.
	ModeClusterNative PropagationMode = "cluster"
	// ModeExplicitFanout sends the statement set to every node independently.
	ModeExplicitFanout PropagationMode = "fanout"
)

// ParsePropagationMode normalizes a configured mode name.
func ParsePropagationMode(s string) (PropagationMode, error) {
	switch PropagationMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAuto, "":
		return ModeAuto, nil
	case ModeClusterNative, "cluster_native", "on_cluster":
		return ModeClusterNative, nil
	case ModeExplicitFanout, "explicit_fanout":
		return ModeExplicitFanout, nil
	default:
		return "", ErrValidation("propagation mode must be auto, cluster, or fanout, got %q", s)
	}
}

// NodeResult is the outcome of one propagation attempt on one node.
type NodeResult struct {
	Node           Node
	AppliedComment string // relation comment in effect on success
	Statements     int    // statements the node acknowledged
	Attempts       int    // executions including retries
	Err            error  // nil on success
}

// Succeeded reports whether every statement reached the node.
func (r NodeResult) Succeeded() bool { return r.Err == nil }

// PropagationResult collects per-node outcomes for one relation. It is
// created per attempt and never persisted.
type PropagationResult struct {
	RunID    string
	Relation string
	Mode     PropagationMode
	Nodes    []NodeResult
}

// Failed returns the node results that carry an error.
func (p *PropagationResult) Failed() []NodeResult {
	var out []NodeResult
	for _, n := range p.Nodes {
		if !n.Succeeded() {
			out = append(out, n)
		}
	}
	return out
}

// AllSucceeded reports whether no node failed.
func (p *PropagationResult) AllSucceeded() bool {
	return len(p.Nodes) > 0 && len(p.Failed()) == 0
}

// AnySucceeded reports whether at least one node succeeded.
func (p *PropagationResult) AnySucceeded() bool {
	for _, n := range p.Nodes {
		if n.Succeeded() {
			return true
		}
	}
	return false
}

// Err joins every per-node failure, or returns nil.
func (p *PropagationResult) Err() error {
	var errs []error
	for _, n := range p.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", n.Node, n.Err))
	}
	return errors.Join(errs...)
}

// Summary is a one-line, human-readable outcome naming every failed node.
func (p *PropagationResult) Summary() string {
	failed := p.Failed()
	if len(failed) == 0 {
		return fmt.Sprintf("%s: propagated to %d/%d nodes (%s)", p.Relation, len(p.Nodes), len(p.Nodes), p.Mode)
	}
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = fmt.Sprintf("%s (%v)", f.Node, f.Err)
	}
	return fmt.Sprintf("%s: FAILED on %d/%d nodes (%s): %s",
		p.Relation, len(failed), len(p.Nodes), p.Mode, strings.Join(parts, "; "))
}

// Package fsm holds explicit transition tables for status-driven records.
package fsm

import (
	"sort"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
)

// Machine is an immutable transition table over a string-backed status type.
type Machine[S ~string] struct {
	name        string
	transitions map[S]map[S]bool
	sources     map[S][]S
}

// New builds a machine from a map of state -> allowed next states.
// States with no outgoing edges are terminal.
func New[S ~string](name string, table map[S][]S) *Machine[S] {
	m := &Machine[S]{
		name:        name,
		transitions: make(map[S]map[S]bool, len(table)),
		sources:     make(map[S][]S),
	}
	for from, tos := range table {
		if m.transitions[from] == nil {
			m.transitions[from] = make(map[S]bool, len(tos))
		}
		for _, to := range tos {
			m.transitions[from][to] = true
			m.sources[to] = append(m.sources[to], from)
		}
	}
	for to := range m.sources {
		src := m.sources[to]
		sort.Slice(src, func(i, j int) bool { return src[i] < src[j] })
	}
	return m
}

func (m *Machine[S]) Can(from, to S) bool {
	return m.transitions[from][to]
}

// Sources lists every state from which to is reachable in one step.
func (m *Machine[S]) Sources(to S) []S {
	out := make([]S, len(m.sources[to]))
	copy(out, m.sources[to])
	return out
}

func (m *Machine[S]) IsTerminal(s S) bool {
	return len(m.transitions[s]) == 0
}

// Check returns an InvalidState error naming both states when from -> to is not allowed.
func (m *Machine[S]) Check(op string, from, to S) error {
	if m.Can(from, to) {
		return nil
	}
	if m.IsTerminal(from) {
		return apperr.InvalidState(op, "%s is already %s", m.name, from)
	}
	return apperr.InvalidState(op, "%s cannot move from %s to %s", m.name, from, to)
}

// Strings converts states for use as a SQL array parameter.
func Strings[S ~string](states []S) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

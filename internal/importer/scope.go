package importer

import (
	"fmt"
	"slices"
	"strings"
)

// Scope selects the targets of one import call: either everything the
// orchestrator knows or can discover, or an explicit list of names.
type Scope struct {
	names []string
	named bool
}

// All selects every configured or discoverable target.
func All() Scope {
	return Scope{}
}

// Named selects exactly the given targets. Named() with no names selects nothing.
func Named(names ...string) Scope {
	return Scope{names: slices.Clone(names), named: true}
}

func (s Scope) String() string {
	if !s.named {
		return "all"
	}
	return strings.Join(s.names, ",")
}

// Targets is a resolved, duplicate-free list of names, fixed before dispatch.
type Targets struct {
	names []string
}

// Names returns a copy of the target names in resolution order.
func (t Targets) Names() []string {
	return slices.Clone(t.names)
}

// Len returns the number of targets.
func (t Targets) Len() int {
	return len(t.names)
}

// Resolve turns the scope into concrete targets, calling discover only for All.
func (s Scope) Resolve(discover func() ([]string, error)) (Targets, error) {
	names := s.names
	if !s.named {
		var err error
		if names, err = discover(); err != nil {
			return Targets{}, fmt.Errorf("discover targets: %w", err)
		}
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" || strings.ContainsAny(n, `/\`) || n == "." || n == ".." {
			return Targets{}, fmt.Errorf("invalid target name %q", n)
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return Targets{names: out}, nil
}

func listed(names []string) func() ([]string, error) {
	return func() ([]string, error) { return names, nil }
}

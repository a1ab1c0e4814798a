package stage

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// ExecutionOrder validates the stage table as a dependency graph and returns
// the stages in a deterministic topological order. It rejects unknown
// predecessor names, dependency cycles, and tables without exactly one root
// stage. For the fixed pipeline the result equals table order; deriving it
// from the edges keeps the table and the graph from drifting apart.
func ExecutionOrder(stages []Stage) ([]Stage, error) {
	byName := make(map[string]Stage, len(stages))
	pos := make(map[string]int, len(stages))
	for i, s := range stages {
		if _, ok := byName[s.Name]; ok {
			return nil, errors.Errorf("stage %s defined twice", s.Name)
		}
		byName[s.Name] = s
		pos[s.Name] = i
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, s := range stages {
		if err := g.AddVertex(s.Name); err != nil {
			return nil, errors.Wrapf(err, "stage %s", s.Name)
		}
	}
	roots := 0
	for _, s := range stages {
		if len(s.After) == 0 {
			roots++
		}
		for _, dep := range s.After {
			if _, ok := byName[dep]; !ok {
				return nil, errors.Errorf("stage %s depends on unknown stage %s", s.Name, dep)
			}
			if err := g.AddEdge(dep, s.Name); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, errors.Errorf("stage %s -> %s creates a dependency cycle", dep, s.Name)
				}
				return nil, errors.Wrapf(err, "stage %s -> %s", dep, s.Name)
			}
		}
	}
	if roots != 1 {
		return nil, errors.Errorf("pipeline must have exactly one root stage, found %d", roots)
	}

	// Stable sort keyed by table position so ties between independent
	// stages (snp-matrix and snp-reference) always resolve the same way.
	names, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return pos[a] < pos[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "ordering pipeline stages")
	}
	ordered := make([]Stage, len(names))
	for i, name := range names {
		ordered[i] = byName[name]
	}
	return ordered, nil
}

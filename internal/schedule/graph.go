package schedule

import (
	"fmt"
	"sort"

	"planline/internal/domain"
)

// graph is the link index for one pass. It is built once so the topological
// sort and both CPM passes walk adjacency lists instead of scanning links.
type graph struct {
	nodes []string
	in    map[string][]domain.Link
	out   map[string][]domain.Link
}

// buildGraph indexes links between schedulable tasks. Links that cannot take
// part in the pass are dropped and reported as warnings.
func buildGraph(nodes []string, summaries map[string]bool, known map[string]bool, links []domain.Link) (*graph, []Warning) {
	g := &graph{
		nodes: append([]string(nil), nodes...),
		in:    make(map[string][]domain.Link),
		out:   make(map[string][]domain.Link),
	}
	sort.Strings(g.nodes)

	var warnings []Warning
	for _, l := range links {
		switch {
		case !known[l.FromID] || !known[l.ToID]:
			warnings = append(warnings, Warning{
				Code:    WarnDanglingLink,
				LinkID:  l.ID,
				Message: fmt.Sprintf("link %s references unknown task (%s -> %s)", l.ID, l.FromID, l.ToID),
			})
			continue
		case !l.Type.IsValid():
			warnings = append(warnings, Warning{
				Code:    WarnInvalidLinkType,
				LinkID:  l.ID,
				Message: fmt.Sprintf("link %s has unknown type %q", l.ID, l.Type),
			})
			continue
		case summaries[l.FromID] || summaries[l.ToID]:
			warnings = append(warnings, Warning{
				Code:    WarnGroupLink,
				LinkID:  l.ID,
				Message: fmt.Sprintf("link %s touches a summary task and is ignored", l.ID),
			})
			continue
		}
		g.out[l.FromID] = append(g.out[l.FromID], l)
		g.in[l.ToID] = append(g.in[l.ToID], l)
	}

	for id := range g.out {
		sortLinks(g.out[id], func(l domain.Link) string { return l.ToID })
	}
	for id := range g.in {
		sortLinks(g.in[id], func(l domain.Link) string { return l.FromID })
	}
	return g, warnings
}

func sortLinks(links []domain.Link, key func(domain.Link) string) {
	sort.SliceStable(links, func(i, j int) bool {
		ki, kj := key(links[i]), key(links[j])
		if ki != kj {
			return ki < kj
		}
		return links[i].ID < links[j].ID
	})
}

// topoSort orders nodes with Kahn's algorithm, always taking the smallest
// ready id so the order is stable across runs.
func (g *graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		inDegree[id] = len(g.in[id])
	}

	var ready []string
	for _, id := range g.nodes {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		for _, l := range g.out[node] {
			inDegree[l.ToID]--
			if inDegree[l.ToID] == 0 {
				ready = insertSorted(ready, l.ToID)
			}
		}
	}

	if len(order) != len(g.nodes) {
		if cycle := g.findCycle(); cycle != nil {
			return nil, cycle
		}
		return nil, fmt.Errorf("topological sort stopped after %d of %d tasks", len(order), len(g.nodes))
	}
	return order, nil
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// findCycle walks the graph depth first with the usual white/gray/black
// colouring and returns the first cycle met, or nil.
func (g *graph) findCycle() *CyclicDependencyError {
	const (
		white = iota
		gray
		black
	)
	state := make(map[string]int, len(g.nodes))
	var path []domain.Link

	var visit func(id string) *CyclicDependencyError
	visit = func(id string) *CyclicDependencyError {
		state[id] = gray
		for _, l := range g.out[id] {
			switch state[l.ToID] {
			case gray:
				start := len(path)
				for i := len(path) - 1; i >= 0; i-- {
					if path[i].FromID == l.ToID {
						start = i
						break
					}
				}
				cycle := append(append([]domain.Link(nil), path[start:]...), l)
				return newCycleError(cycle)
			case white:
				path = append(path, l)
				if err := visit(l.ToID); err != nil {
					return err
				}
				path = path[:len(path)-1]
			}
		}
		state[id] = black
		return nil
	}

	for _, id := range g.nodes {
		if state[id] != white {
			continue
		}
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// DetectCycle reports the cycle the links would form among the given task
// ids, or nil. Dangling links and unknown link types are ignored.
func DetectCycle(taskIDs []string, links []domain.Link) *CyclicDependencyError {
	known := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		known[id] = true
	}
	g, _ := buildGraph(taskIDs, nil, known, links)
	return g.findCycle()
}

package graph

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/version"
)

// ProjectGraph is the project reference graph: an edge A -> B means A references B
type ProjectGraph struct {
	graph  *simple.DirectedGraph
	ids    map[model.ProjectID]int64 // Map from project to graph ID
	names  map[int64]model.ProjectID // Map from graph ID back to project
	nextID int64
}

// NewProjectGraph creates an empty project graph
func NewProjectGraph() *ProjectGraph {
	return &ProjectGraph{
		graph: simple.NewDirectedGraph(),
		ids:   make(map[model.ProjectID]int64),
		names: make(map[int64]model.ProjectID),
	}
}

// AddProject adds a project to the graph
func (pg *ProjectGraph) AddProject(id model.ProjectID) {
	if _, exists := pg.ids[id]; exists {
		return
	}

	pg.ids[id] = pg.nextID
	pg.names[pg.nextID] = id
	pg.graph.AddNode(simple.Node(pg.nextID))
	pg.nextID++
}

// AddReference adds an edge from a project to a project it references
func (pg *ProjectGraph) AddReference(from, to model.ProjectID) {
	pg.AddProject(from)
	pg.AddProject(to)

	fromID, toID := pg.ids[from], pg.ids[to]
	if fromID == toID || pg.graph.HasEdgeFromTo(fromID, toID) {
		return
	}
	pg.graph.SetEdge(pg.graph.NewEdge(pg.graph.Node(fromID), pg.graph.Node(toID)))
}

// Projects returns all projects, sorted by ID
func (pg *ProjectGraph) Projects() []model.ProjectID {
	projects := make([]model.ProjectID, 0, len(pg.ids))
	for id := range pg.ids {
		projects = append(projects, id)
	}
	slices.Sort(projects)
	return projects
}

// References returns the projects directly referenced by id, sorted
func (pg *ProjectGraph) References(id model.ProjectID) []model.ProjectID {
	nodeID, exists := pg.ids[id]
	if !exists {
		return nil
	}

	var refs []model.ProjectID
	iter := pg.graph.From(nodeID)
	for iter.Next() {
		refs = append(refs, pg.names[iter.Node().ID()])
	}
	slices.Sort(refs)
	return refs
}

// Dependents returns the projects that reference id directly or transitively, sorted
func (pg *ProjectGraph) Dependents(id model.ProjectID) []model.ProjectID {
	start, exists := pg.ids[id]
	if !exists {
		return nil
	}

	seen := map[int64]bool{start: true}
	queue := []int64{start}
	var out []model.ProjectID
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		iter := pg.graph.To(current)
		for iter.Next() {
			next := iter.Node().ID()
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, pg.names[next])
			queue = append(queue, next)
		}
	}
	slices.Sort(out)
	return out
}

// Order returns the projects with every project after the projects it
// references (leaves first). Projects on a reference cycle cannot be ordered;
// they are returned separately and left out of the order.
func (pg *ProjectGraph) Order() (ordered []model.ProjectID, cyclic []model.ProjectID) {
	sorted, err := topo.SortStabilized(pg.graph, nil)

	var unorderable topo.Unorderable
	if err != nil && !errors.As(err, &unorderable) {
		// SortStabilized only fails with Unorderable
		panic(fmt.Sprintf("unexpected topo error: %v", err))
	}

	onCycle := make(map[int64]bool)
	for _, component := range unorderable {
		for _, n := range component {
			onCycle[n.ID()] = true
			cyclic = append(cyclic, pg.names[n.ID()])
		}
	}
	slices.Sort(cyclic)

	// topo order puts referencing projects first; reverse for leaves first
	for i := len(sorted) - 1; i >= 0; i-- {
		n := sorted[i]
		if n == nil || onCycle[n.ID()] {
			continue
		}
		ordered = append(ordered, pg.names[n.ID()])
	}
	return ordered, cyclic
}

// DependentVersions derives every orderable project's dependent version from
// its own version and the dependent versions of the projects it references.
// Projects that are cyclic, or reference one, get no entry.
func (pg *ProjectGraph) DependentVersions(own map[model.ProjectID]version.Token) map[model.ProjectID]version.Token {
	ordered, _ := pg.Order()
	out := make(map[model.ProjectID]version.Token, len(ordered))

	for _, id := range ordered {
		refs := pg.References(id)
		deps := make([]version.Token, 0, len(refs))
		complete := true
		for _, ref := range refs {
			v, ok := out[ref]
			if !ok {
				complete = false
				break
			}
			deps = append(deps, v)
		}
		if !complete {
			continue
		}
		out[id] = version.Combine(own[id], deps...)
	}
	return out
}

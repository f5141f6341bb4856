package workflow

import "sort"

// Workflow is an immutable directed graph of executors and typed edges.
//
// Workflows are assembled by a Builder and validated by Build; once built
// they carry no mutable run state and may back any number of concurrent
// runs. All per-run state (pending deliveries, fan-in buffers, executor
// custom state) lives in Run.
type Workflow struct {
	name        string
	description string
	startID     string

	executors map[string]Executor
	routes    map[string]*RouteBuilder
	edges     []*Edge
	bySource  map[string][]*Edge

	chatProtocol bool
}

// Name returns the optional workflow name.
func (w *Workflow) Name() string { return w.name }

// Description returns the optional workflow description.
func (w *Workflow) Description() string { return w.description }

// StartID returns the id of the start executor.
func (w *Workflow) StartID() string { return w.startID }

// ExecutorIDs returns the declared executor ids in sorted order.
func (w *Workflow) ExecutorIDs() []string {
	ids := make([]string, 0, len(w.executors))
	for id := range w.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Executor returns the executor registered under id.
func (w *Workflow) Executor(id string) (Executor, bool) {
	e, ok := w.executors[id]
	return e, ok
}

// Edges returns the edge set in declaration order.
func (w *Workflow) Edges() []*Edge {
	out := make([]*Edge, len(w.edges))
	copy(out, w.edges)
	return out
}

// edgesFrom returns the edges whose source set contains sourceID, in
// declaration order.
func (w *Workflow) edgesFrom(sourceID string) []*Edge {
	return w.bySource[sourceID]
}

// routesFor returns the built handler table of an executor.
func (w *Workflow) routesFor(executorID string) (*RouteBuilder, bool) {
	rb, ok := w.routes[executorID]
	return rb, ok
}

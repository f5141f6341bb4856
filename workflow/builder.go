package workflow

import (
	"errors"
	"fmt"
	"reflect"
)

// Builder accumulates executors and edges and produces an immutable
// Workflow.
//
// Build performs structural validation and reports every problem it
// finds in a single aggregate error (via errors.Join), so a caller sees
// all misconfigurations at once instead of fixing them one build at a
// time.
//
// Example:
//
//	wf, err := workflow.NewBuilder().
//	    WithName("pipeline").
//	    AddExecutor(upper).
//	    AddExecutor(reverse).
//	    StartAt("uppercase").
//	    Connect("uppercase", "reverse", nil).
//	    Build()
type Builder struct {
	name         string
	description  string
	startID      string
	startSet     bool
	executors    map[string]Executor
	order        []string
	edges        []*Edge
	chatProtocol bool
	errs         []error
}

// NewBuilder creates an empty workflow builder.
func NewBuilder() *Builder {
	return &Builder{executors: make(map[string]Executor)}
}

// WithName sets the optional workflow name.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// WithDescription sets the optional workflow description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.description = desc
	return b
}

// AddExecutor registers an executor. Ids must be unique within the
// graph; duplicates and empty ids are reported by Build.
func (b *Builder) AddExecutor(e Executor) *Builder {
	if e == nil {
		b.errs = append(b.errs, &WorkflowError{Message: "executor cannot be nil", Code: "NIL_EXECUTOR"})
		return b
	}
	id := e.ID()
	if id == "" {
		b.errs = append(b.errs, &WorkflowError{Message: "executor id cannot be empty", Code: "EMPTY_EXECUTOR_ID"})
		return b
	}
	if _, exists := b.executors[id]; exists {
		b.errs = append(b.errs, &WorkflowError{Message: "duplicate executor id: " + id, Code: "DUPLICATE_EXECUTOR"})
		return b
	}
	b.executors[id] = e
	b.order = append(b.order, id)
	return b
}

// StartAt sets the entry point. The initial workflow input is delivered
// to this executor.
func (b *Builder) StartAt(executorID string) *Builder {
	b.startID = executorID
	b.startSet = true
	return b
}

// Connect adds a direct edge from one executor to another with an
// optional guard condition (nil = unconditional).
func (b *Builder) Connect(from, to string, when Condition) *Builder {
	b.addEdge(&Edge{
		Kind:    KindDirect,
		Sources: []string{from},
		Targets: []string{to},
		When:    when,
	})
	return b
}

// FanOut adds an edge delivering each message from one source to several
// targets. A non-nil partitioner selects target indices per message;
// nil delivers to all targets.
func (b *Builder) FanOut(from string, targets []string, partition Partitioner) *Builder {
	b.addEdge(&Edge{
		Kind:      KindFanOut,
		Sources:   []string{from},
		Targets:   append([]string(nil), targets...),
		Partition: partition,
	})
	return b
}

// FanIn adds an edge that aggregates exactly one message from each named
// source before delivering the combined, source-ordered set to target in
// a single round.
func (b *Builder) FanIn(sources []string, target string) *Builder {
	b.addEdge(&Edge{
		Kind:    KindFanIn,
		Sources: append([]string(nil), sources...),
		Targets: []string{target},
	})
	return b
}

// Switch adds an edge routing each message from source to the first case
// whose condition matches. A case with a nil condition is the default
// arm.
func (b *Builder) Switch(from string, cases []SwitchCase) *Builder {
	targets := make([]string, len(cases))
	for i, c := range cases {
		targets[i] = c.Target
	}
	b.addEdge(&Edge{
		Kind:    KindSwitch,
		Sources: []string{from},
		Targets: targets,
		Cases:   append([]SwitchCase(nil), cases...),
	})
	return b
}

// WithChatProtocol declares that this workflow is driven by
// conversational turns. Build then additionally requires the start
// executor to register handlers for []ChatMessage and TurnToken, so
// conversational hosts fail at build time instead of hitting silent
// type-mismatch drops at run time.
func (b *Builder) WithChatProtocol() *Builder {
	b.chatProtocol = true
	return b
}

func (b *Builder) addEdge(e *Edge) {
	e.ID = edgeID(e.Kind, e.Sources, e.Targets, len(b.edges))
	b.edges = append(b.edges, e)
}

// Build validates the accumulated graph and returns the immutable
// Workflow. All validation failures are joined into one error.
func (b *Builder) Build() (*Workflow, error) {
	errs := append([]error(nil), b.errs...)

	// Build handler tables once; surfaces duplicate-handler errors.
	routes := make(map[string]*RouteBuilder, len(b.executors))
	for _, id := range b.order {
		rb := b.executors[id].ConfigureRoutes(NewRouteBuilder())
		if rb == nil {
			errs = append(errs, &WorkflowError{
				Message: "executor " + id + " returned nil RouteBuilder",
				Code:    "NIL_ROUTES",
			})
			continue
		}
		for _, err := range rb.errs {
			errs = append(errs, fmt.Errorf("executor %s: %w", id, err))
		}
		if len(rb.order) == 0 {
			errs = append(errs, &WorkflowError{
				Message: "executor " + id + " registers no handlers",
				Code:    "NO_HANDLERS",
			})
		}
		routes[id] = rb
	}

	// Edge endpoints must reference declared executors.
	for _, e := range b.edges {
		for _, src := range e.Sources {
			if _, ok := b.executors[src]; !ok {
				errs = append(errs, &WorkflowError{
					Message: fmt.Sprintf("edge %s references unknown source executor %q", e.ID, src),
					Code:    "UNKNOWN_SOURCE",
				})
			}
		}
		for _, tgt := range e.Targets {
			if _, ok := b.executors[tgt]; !ok {
				errs = append(errs, &WorkflowError{
					Message: fmt.Sprintf("edge %s references unknown target executor %q", e.ID, tgt),
					Code:    "UNKNOWN_TARGET",
				})
			}
		}
		if e.Kind == KindFanIn {
			if len(e.Sources) < 2 {
				errs = append(errs, &WorkflowError{
					Message: "fan-in edge " + e.ID + " needs at least two sources",
					Code:    "FANIN_TOO_FEW_SOURCES",
				})
			}
			seen := make(map[string]bool, len(e.Sources))
			for _, src := range e.Sources {
				if seen[src] {
					errs = append(errs, &WorkflowError{
						Message: fmt.Sprintf("fan-in edge %s lists source %q twice", e.ID, src),
						Code:    "FANIN_DUPLICATE_SOURCE",
					})
				}
				seen[src] = true
			}
		}
	}

	// Start executor must be set and declared.
	if !b.startSet || b.startID == "" {
		errs = append(errs, &WorkflowError{Message: "start executor not set (call StartAt)", Code: "NO_START"})
	} else if _, ok := b.executors[b.startID]; !ok {
		errs = append(errs, &WorkflowError{Message: "start executor does not exist: " + b.startID, Code: "UNKNOWN_START"})
	} else {
		for _, id := range b.unreachableFrom(b.startID) {
			errs = append(errs, &WorkflowError{
				Message: "executor " + id + " is unreachable from start executor " + b.startID,
				Code:    "UNREACHABLE_EXECUTOR",
			})
		}
	}

	// Chat protocol contract.
	if b.chatProtocol && b.startSet {
		if rb, ok := routes[b.startID]; ok {
			msgType := reflect.TypeOf([]ChatMessage(nil))
			tokenType := reflect.TypeOf(TurnToken{})
			if !rb.Handles(msgType) || !rb.Handles(tokenType) {
				errs = append(errs, &WorkflowError{
					Message: fmt.Sprintf(
						"chat protocol requires start executor %s to handle both %s and %s",
						b.startID, msgType, tokenType),
					Code: "CHAT_PROTOCOL_VIOLATION",
				})
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	executors := make(map[string]Executor, len(b.executors))
	for id, e := range b.executors {
		executors[id] = e
	}
	edges := make([]*Edge, len(b.edges))
	copy(edges, b.edges)

	bySource := make(map[string][]*Edge)
	for _, e := range edges {
		for _, src := range e.Sources {
			bySource[src] = append(bySource[src], e)
		}
	}

	return &Workflow{
		name:         b.name,
		description:  b.description,
		startID:      b.startID,
		executors:    executors,
		routes:       routes,
		edges:        edges,
		bySource:     bySource,
		chatProtocol: b.chatProtocol,
	}, nil
}

// unreachableFrom returns executor ids not reachable from start by
// following edges, in registration order.
func (b *Builder) unreachableFrom(start string) []string {
	reached := map[string]bool{start: true}
	frontier := []string{start}
	for len(frontier) > 0 {
		next := frontier
		frontier = nil
		for _, id := range next {
			for _, e := range b.edges {
				if !containsString(e.Sources, id) {
					continue
				}
				for _, tgt := range e.Targets {
					if !reached[tgt] {
						reached[tgt] = true
						frontier = append(frontier, tgt)
					}
				}
			}
		}
	}

	var unreachable []string
	for _, id := range b.order {
		if !reached[id] {
			unreachable = append(unreachable, id)
		}
	}
	return unreachable
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

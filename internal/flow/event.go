package flow

import (
	"fmt"

	"github.com/routilux/routilux-go/internal/apierr"
)

// EventSpec declares an output port: a name plus the ordered parameter
// names every emission on it must supply.
type EventSpec struct {
	Name   string
	Params []string

	connections []*Connection
}

func NewEventSpec(name string, params []string) *EventSpec {
	cp := make([]string, len(params))
	copy(cp, params)
	return &EventSpec{Name: name, Params: cp}
}

// addConnection appends to the outgoing connection list. Emission order
// across connections from the same event follows this registration order.
func (e *EventSpec) addConnection(c *Connection) {
	e.connections = append(e.connections, c)
}

// Connections returns the outgoing edges in registration order. Callers
// must not mutate the returned slice.
func (e *EventSpec) Connections() []*Connection {
	return e.connections
}

// Validate checks that kwargs supplies exactly the declared parameters.
// In strict mode any extra or missing parameter is a schema_error; in
// lenient mode missing parameters are filled with nil and extras are kept.
func (e *EventSpec) Validate(kwargs map[string]any, strict bool) (map[string]any, error) {
	if !strict {
		out := make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			out[k] = v
		}
		for _, p := range e.Params {
			if _, ok := out[p]; !ok {
				out[p] = nil
			}
		}
		return out, nil
	}

	missing := make([]string, 0)
	for _, p := range e.Params {
		if _, ok := kwargs[p]; !ok {
			missing = append(missing, p)
		}
	}
	extra := make([]string, 0)
	declared := make(map[string]bool, len(e.Params))
	for _, p := range e.Params {
		declared[p] = true
	}
	for k := range kwargs {
		if !declared[k] {
			extra = append(extra, k)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return nil, apierr.New(422, apierr.CodeSchemaError,
			fmt.Errorf("event %q: missing params %v, extra params %v", e.Name, missing, extra))
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = v
	}
	return out, nil
}

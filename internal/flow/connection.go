package flow

// Connection describes a directed edge from an event on one routine to a
// slot on another, plus optional static parameter renaming. Connections
// carry routine ids rather than object handles so that cyclic graphs never
// create an ownership cycle; the scheduler resolves ids through the Flow.
type Connection struct {
	ID string

	SourceRoutine string
	SourceEvent   string
	TargetRoutine string
	TargetSlot    string

	// ParamMapping renames source parameter name -> target key name.
	// Unmapped parameters pass through unchanged. No computation occurs here.
	ParamMapping map[string]string
}

// Apply renames keys in kwargs per ParamMapping, passing through anything
// not explicitly mapped.
func (c *Connection) Apply(kwargs map[string]any) map[string]any {
	if len(c.ParamMapping) == 0 {
		out := make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if dst, ok := c.ParamMapping[k]; ok {
			out[dst] = v
		} else {
			out[k] = v
		}
	}
	return out
}

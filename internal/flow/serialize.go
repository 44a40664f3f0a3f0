package flow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CurrentVersion is the schema version this build emits and targets on
// deserialize; older documents are walked forward through the migration
// registry before decoding.
const CurrentVersion = 1

type routineDoc struct {
	Class        string         `json:"class"`
	Config       map[string]any `json:"config,omitempty"`
	ErrorHandler map[string]any `json:"error_handler,omitempty"`
}

type connectionDoc struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	Mapping map[string]string `json:"mapping,omitempty"`
}

type executionDoc struct {
	Strategy   string `json:"strategy,omitempty"`
	MaxWorkers int    `json:"max_workers,omitempty"`
}

type flowDoc struct {
	Version     int                    `json:"version"`
	FlowID      string                 `json:"flow_id"`
	Routines    map[string]routineDoc  `json:"routines"`
	Connections []connectionDoc        `json:"connections"`
	Execution   *executionDoc          `json:"execution,omitempty"`
}

// Serialize renders the flow graph in the versioned logical format. Only
// graph-relevant data is captured: instantiated slot queues and runtime
// state never appear here, matching the spec's separation of the immutable
// graph from per-job execution.
func Serialize(f *Flow) ([]byte, error) {
	doc := flowDoc{
		Version:  CurrentVersion,
		FlowID:   f.ID,
		Routines: make(map[string]routineDoc),
	}
	for _, r := range f.Routines() {
		doc.Routines[r.ID] = routineDoc{
			Class:  r.Kind,
			Config: r.ConfigSnapshot(),
		}
	}
	for _, c := range f.Connections() {
		doc.Connections = append(doc.Connections, connectionDoc{
			From:    c.SourceRoutine + "." + c.SourceEvent,
			To:      c.TargetRoutine + "." + c.TargetSlot,
			Mapping: c.ParamMapping,
		})
	}
	doc.Execution = &executionDoc{
		Strategy:   string(f.Strategy),
		MaxWorkers: f.DefaultParallelism,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Deserialize decodes a flow document, migrating it to CurrentVersion
// first if its declared version differs, then rebuilds routines through
// the given Factory (so construction never uses reflection) and replays
// connections by name.
func Deserialize(data []byte, factory *Factory, migrations *MigrationRegistry) (*Flow, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("flow: decode document: %w", err)
	}

	version := CurrentVersion
	if v, ok := raw["version"]; ok {
		switch t := v.(type) {
		case float64:
			version = int(t)
		case int:
			version = t
		}
	}

	if version != CurrentVersion {
		if migrations == nil {
			return nil, fmt.Errorf("flow: document is version %d, need migration registry to reach %d", version, CurrentVersion)
		}
		migrated, err := migrations.Migrate(raw, version, CurrentVersion)
		if err != nil {
			return nil, err
		}
		raw = migrated
	}

	reencoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("flow: re-encode migrated document: %w", err)
	}
	var doc flowDoc
	if err := json.Unmarshal(reencoded, &doc); err != nil {
		return nil, fmt.Errorf("flow: decode document into schema: %w", err)
	}

	f := New(doc.FlowID, doc.FlowID)
	if doc.Execution != nil {
		if doc.Execution.Strategy != "" {
			f.Strategy = ExecutionStrategy(doc.Execution.Strategy)
		}
		f.DefaultParallelism = doc.Execution.MaxWorkers
	}

	for id, rd := range doc.Routines {
		r, err := factory.Build(rd.Class, id)
		if err != nil {
			return nil, err
		}
		r.SetConfig(rd.Config)
		if err := f.AddRoutine(r); err != nil {
			return nil, err
		}
	}

	for _, cd := range doc.Connections {
		srcRoutine, srcEvent, err := splitRef(cd.From)
		if err != nil {
			return nil, fmt.Errorf("flow: connection.from: %w", err)
		}
		tgtRoutine, tgtSlot, err := splitRef(cd.To)
		if err != nil {
			return nil, fmt.Errorf("flow: connection.to: %w", err)
		}
		if _, err := f.Connect(srcRoutine, srcEvent, tgtRoutine, tgtSlot, cd.Mapping); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func splitRef(ref string) (routine, member string, err error) {
	idx := strings.LastIndex(ref, ".")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("malformed reference %q, expected <routine_id>.<name>", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

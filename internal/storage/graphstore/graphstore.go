// Package graphstore is a graph-native durable backing for Flow graphs
// specifically (routines as nodes, connections as relationships — flows are
// graphs natively, so this is a more faithful persistence shape than the
// row-per-flow JSON blob in internal/storage/sqlstore). Not named in
// spec.md's distillation; added per SPEC_FULL.md's domain-stack wiring
// table since the retrieval pack's own stack ships a Neo4j driver and flows
// are directed graphs.
//
// Grounded on the teacher's internal/platform/neo4jdb.Client (NewFromEnv's
// env-driven dial-and-verify shape, schema-constraint-then-MERGE pattern)
// and internal/data/graph/neo4j_concept_graph.go's UNWIND-then-MERGE
// transaction idiom, retargeted from concept/edge domain nodes to
// Routine/Connection flow nodes.
package graphstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/logger"
)

// Client wraps a Neo4j driver bound to a single database name.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

// NewFromEnv dials NEO4J_URI (NEO4J_USER/NEO4J_PASSWORD/NEO4J_DATABASE,
// defaulting user to "neo4j"), returning (nil, nil) when NEO4J_URI is unset
// so callers can treat graph persistence as an optional plug exactly like
// the teacher's NewFromEnv does.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	uri := strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if uri == "" {
		return nil, nil
	}
	user := strings.TrimSpace(os.Getenv("NEO4J_USER"))
	if user == "" {
		user = "neo4j"
	}
	password := strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	database := strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))

	timeoutSec := 10
	if v := strings.TrimSpace(os.Getenv("NEO4J_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	auth := neo4j.BasicAuth(user, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = time.Duration(timeoutSec) * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: init driver: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graphstore: verify connectivity: %w", err)
	}
	return &Client{Driver: driver, Database: database, log: log.With("client", "graphstore")}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}

// SaveFlow MERGEs f's routines as :Routine nodes (scoped to the flow by a
// flow_id property, since Routine ids are only unique within one flow) and
// its connections as :CONNECTS relationships, replacing whatever graph was
// previously stored under this flow id.
func (c *Client) SaveFlow(ctx context.Context, f *flow.Flow) error {
	if c == nil || c.Driver == nil || f == nil {
		return nil
	}
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	if res, err := session.Run(ctx, `CREATE CONSTRAINT routine_flow_id_unique IF NOT EXISTS FOR (r:Routine) REQUIRE (r.flow_id, r.id) IS UNIQUE`, nil); err != nil {
		c.log.Warn("graphstore: schema init failed (continuing)", "error", err)
	} else {
		_, _ = res.Consume(ctx)
	}

	nodes := make([]map[string]any, 0, len(f.Routines()))
	for _, r := range f.Routines() {
		configJSON, err := marshalConfig(r.ConfigSnapshot())
		if err != nil {
			return fmt.Errorf("graphstore: marshal routine config: %w", err)
		}
		nodes = append(nodes, map[string]any{
			"flow_id": f.ID,
			"id":      r.ID,
			"kind":    r.Kind,
			"config":  configJSON,
		})
	}

	rels := make([]map[string]any, 0, len(f.Connections()))
	for _, conn := range f.Connections() {
		mappingJSON, err := marshalConfig(toAnyMap(conn.ParamMapping))
		if err != nil {
			return fmt.Errorf("graphstore: marshal connection mapping: %w", err)
		}
		rels = append(rels, map[string]any{
			"flow_id":        f.ID,
			"connection_id":  conn.ID,
			"source_routine": conn.SourceRoutine,
			"source_event":   conn.SourceEvent,
			"target_routine": conn.TargetRoutine,
			"target_slot":    conn.TargetSlot,
			"mapping":        mappingJSON,
		})
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `MATCH (r:Routine {flow_id: $flow_id})-[e:CONNECTS]->() DELETE e`, map[string]any{"flow_id": f.ID}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		if res, err := tx.Run(ctx, `MATCH (r:Routine {flow_id: $flow_id}) DETACH DELETE r`, map[string]any{"flow_id": f.ID}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (r:Routine {flow_id: n.flow_id, id: n.id})
SET r.kind = n.kind, r.config = n.config
`, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		if len(rels) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS c
MATCH (a:Routine {flow_id: c.flow_id, id: c.source_routine})
MATCH (b:Routine {flow_id: c.flow_id, id: c.target_routine})
MERGE (a)-[e:CONNECTS {connection_id: c.connection_id}]->(b)
SET e.source_event = c.source_event, e.target_slot = c.target_slot, e.mapping = c.mapping
`, map[string]any{"rels": rels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// LoadFlow rebuilds a Flow's graph shape from stored nodes/relationships,
// constructing routines through factory (never reflection, per §9) and
// replaying connections in whatever order Neo4j returns them — connection
// registration order is not preserved by graph storage, a documented
// limitation relative to the JSON §6 format in internal/flow/serialize.go,
// which callers needing strict emission ordering should prefer.
func (c *Client) LoadFlow(ctx context.Context, flowID string, factory *flow.Factory) (*flow.Flow, error) {
	if c == nil || c.Driver == nil {
		return nil, fmt.Errorf("graphstore: no driver configured")
	}
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	f := flow.New(flowID, flowID)

	nodesRes, err := session.Run(ctx, `MATCH (r:Routine {flow_id: $flow_id}) RETURN r.id AS id, r.kind AS kind, r.config AS config`, map[string]any{"flow_id": flowID})
	if err != nil {
		return nil, fmt.Errorf("graphstore: query routines: %w", err)
	}
	records, err := nodesRes.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("graphstore: collect routines: %w", err)
	}
	for _, rec := range records {
		id, _ := rec.Get("id")
		kind, _ := rec.Get("kind")
		cfgRaw, _ := rec.Get("config")
		r, err := factory.Build(fmt.Sprint(kind), fmt.Sprint(id))
		if err != nil {
			return nil, err
		}
		cfg, err := unmarshalConfig(stringOrEmpty(cfgRaw))
		if err != nil {
			return nil, err
		}
		r.SetConfig(cfg)
		if err := f.AddRoutine(r); err != nil {
			return nil, err
		}
	}

	relsRes, err := session.Run(ctx, `
MATCH (a:Routine {flow_id: $flow_id})-[e:CONNECTS]->(b:Routine {flow_id: $flow_id})
RETURN a.id AS source_routine, e.source_event AS source_event, b.id AS target_routine, e.target_slot AS target_slot, e.mapping AS mapping
`, map[string]any{"flow_id": flowID})
	if err != nil {
		return nil, fmt.Errorf("graphstore: query connections: %w", err)
	}
	relRecords, err := relsRes.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("graphstore: collect connections: %w", err)
	}
	for _, rec := range relRecords {
		srcRoutine, _ := rec.Get("source_routine")
		srcEvent, _ := rec.Get("source_event")
		tgtRoutine, _ := rec.Get("target_routine")
		tgtSlot, _ := rec.Get("target_slot")
		mappingRaw, _ := rec.Get("mapping")
		mappingAny, err := unmarshalConfig(stringOrEmpty(mappingRaw))
		if err != nil {
			return nil, err
		}
		mapping := toStringMap(mappingAny)
		if _, err := f.Connect(fmt.Sprint(srcRoutine), fmt.Sprint(srcEvent), fmt.Sprint(tgtRoutine), fmt.Sprint(tgtSlot), mapping); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}

package services

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/errors"
)

// GraphService runs Cypher against Neo4j. Reads are routed to reader
// instances, writes to the writer, and the two surfaces carry different
// side-effect classes so the planning loop treats them differently.
type GraphService struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewGraph connects to Neo4j with basic auth.
func NewGraph(uri, username, password, database string) (*GraphService, error) {
	if uri == "" {
		return nil, errors.New(errors.CodeFatalConfig, "neo4j uri is required", nil)
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.New(errors.CodeFatalConfig, "creating neo4j driver", err)
	}
	return &GraphService{driver: driver, database: database}, nil
}

// Close releases the driver's connection pool.
func (g *GraphService) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// GraphReadResult carries the rows of a read query.
type GraphReadResult struct {
	callMeta
	Keys    []string         `json:"keys"`
	Records []map[string]any `json:"records"`
}

// GraphWriteResult summarizes the mutations a write query applied.
type GraphWriteResult struct {
	callMeta
	NodesCreated         int `json:"nodes_created"`
	NodesDeleted         int `json:"nodes_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsDeleted int `json:"relationships_deleted"`
	PropertiesSet        int `json:"properties_set"`
}

// Read runs a Cypher query routed to reader instances.
func (g *GraphService) Read(ctx context.Context, query string, params map[string]any) (*GraphReadResult, error) {
	if query == "" {
		return nil, errors.New(errors.CodeInvalidInput, "query must not be empty", nil)
	}
	result, err := neo4j.ExecuteQuery(ctx, g.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, errors.New(errors.CodeExternalService, "neo4j read failed", err)
	}

	out := &GraphReadResult{Keys: result.Keys}
	for _, record := range result.Records {
		out.Records = append(out.Records, record.AsMap())
	}
	return out, nil
}

// Write runs a mutating Cypher query routed to the writer.
func (g *GraphService) Write(ctx context.Context, query string, params map[string]any) (*GraphWriteResult, error) {
	if query == "" {
		return nil, errors.New(errors.CodeInvalidInput, "query must not be empty", nil)
	}
	result, err := neo4j.ExecuteQuery(ctx, g.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	)
	if err != nil {
		// Writes are never retried here; the caller must assume a
		// partial mutation.
		return nil, errors.New(errors.CodeExternalService, "neo4j write failed", err).
			WithRecoverable(false)
	}

	counters := result.Summary.Counters()
	return &GraphWriteResult{
		NodesCreated:         counters.NodesCreated(),
		NodesDeleted:         counters.NodesDeleted(),
		RelationshipsCreated: counters.RelationshipsCreated(),
		RelationshipsDeleted: counters.RelationshipsDeleted(),
		PropertiesSet:        counters.PropertiesSet(),
	}, nil
}

func graphQuerySchema() capability.Schema {
	return capability.Schema{Args: map[string]capability.ArgDef{
		"query": {
			Type:        "string",
			Description: "Cypher query to run.",
			Required:    true,
		},
		"params": {
			Type:        "object",
			Description: "Query parameters referenced as $name in the query.",
		},
	}}
}

// ReadCapability exposes read queries as graph_read.
func (g *GraphService) ReadCapability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "graph_read",
		Description: "Run a read-only Cypher query against the knowledge graph.",
		SideEffect:  capability.ReadExternal,
		Enabled:     true,
		Input:       graphQuerySchema(),
		Output:      capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			params, _ := args["params"].(map[string]any)
			return g.Read(ctx, query, params)
		},
	}
}

// WriteCapability exposes mutating queries as graph_write.
func (g *GraphService) WriteCapability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "graph_write",
		Description: "Run a mutating Cypher query against the knowledge graph.",
		SideEffect:  capability.MutatesExternal,
		Enabled:     true,
		Input:       graphQuerySchema(),
		Output:      capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			params, _ := args["params"].(map[string]any)
			return g.Write(ctx, query, params)
		},
	}
}

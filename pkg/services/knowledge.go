package services

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/errors"
)

// KnowledgeService retrieves semantically similar documents from a Qdrant
// collection. Queries are embedded through the embeddings client, then
// matched against the collection over gRPC.
type KnowledgeService struct {
	points     pb.PointsClient
	embedder   *EmbeddingsClient
	collection string
	topK       int
}

// NewKnowledge connects to Qdrant at addr and binds the service to one
// collection.
func NewKnowledge(addr string, embedder *EmbeddingsClient, collection string, topK int) (*KnowledgeService, error) {
	if embedder == nil {
		return nil, errors.New(errors.CodeFatalConfig, "knowledge service requires an embedder", nil)
	}
	if collection == "" {
		return nil, errors.New(errors.CodeFatalConfig, "knowledge collection is required", nil)
	}
	if topK <= 0 {
		topK = 5
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.New(errors.CodeFatalConfig,
			fmt.Sprintf("connecting to qdrant at %s", addr), err)
	}
	return &KnowledgeService{
		points:     pb.NewPointsClient(conn),
		embedder:   embedder,
		collection: collection,
		topK:       topK,
	}, nil
}

// KnowledgeHit is one retrieved document.
type KnowledgeHit struct {
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// KnowledgeResult is the outcome of one retrieval.
type KnowledgeResult struct {
	callMeta
	Query string         `json:"query"`
	Hits  []KnowledgeHit `json:"hits"`
}

// Search embeds the query and returns the closest documents.
func (s *KnowledgeService) Search(ctx context.Context, query string, limit int) (*KnowledgeResult, error) {
	if query == "" {
		return nil, errors.New(errors.CodeInvalidInput, "query must not be empty", nil)
	}
	if limit <= 0 {
		limit = s.topK
	}

	vectors, retries, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vectors[0],
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, errors.New(errors.CodeTransientService, "qdrant search failed", err)
	}

	result := &KnowledgeResult{
		callMeta: callMeta{retries: retries},
		Query:    query,
	}
	for _, point := range resp.GetResult() {
		hit := KnowledgeHit{
			Score:   point.GetScore(),
			Payload: make(map[string]any, len(point.GetPayload())),
		}
		for key, value := range point.GetPayload() {
			hit.Payload[key] = decodePayloadValue(value)
		}
		result.Hits = append(result.Hits, hit)
	}
	return result, nil
}

func decodePayloadValue(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_ListValue:
		items := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, decodePayloadValue(item))
		}
		return items
	default:
		return v.String()
	}
}

// Capability exposes retrieval as the knowledge_search capability.
func (s *KnowledgeService) Capability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "knowledge_search",
		Description: "Retrieve semantically similar documents from the workspace knowledge collection.",
		SideEffect:  capability.ReadExternal,
		Enabled:     true,
		Input: capability.Schema{Args: map[string]capability.ArgDef{
			"query": {
				Type:        "string",
				Description: "Natural language query.",
				Required:    true,
			},
			"limit": {
				Type:        "number",
				Description: "Maximum number of documents to return.",
			},
		}},
		Output: capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			limit, _ := args["limit"].(float64)
			return s.Search(ctx, query, int(limit))
		},
	}
}

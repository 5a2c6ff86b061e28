package tool

import (
	"context"
	"fmt"
	"strings"

	"mailagent/internal/domain"
)

const defaultRetrieverK = 3

// KnowledgeSearchTool answers questions from the ingested knowledge base.
type KnowledgeSearchTool struct {
	store domain.KnowledgeStore
	k     int
}

// NewKnowledgeSearchTool returns a tool that fetches the top k passages
// (3 when k <= 0).
func NewKnowledgeSearchTool(store domain.KnowledgeStore, k int) *KnowledgeSearchTool {
	if k <= 0 {
		k = defaultRetrieverK
	}
	return &KnowledgeSearchTool{store: store, k: k}
}

func (t *KnowledgeSearchTool) Name() string { return string(KnowledgeBaseSearch) }
func (t *KnowledgeSearchTool) Description() string {
	return "Search the company knowledge base for information relevant to the customer's question. " +
		"Use this before answering anything about products, policies, or procedures."
}
func (t *KnowledgeSearchTool) Parameters() map[string]any {
	return ObjectSchema(map[string]Prop{
		"query": {Type: "string", Description: "Natural-language search query"},
	}, "query")
}

func (t *KnowledgeSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(StringArg(args, "query"))
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}

	results, err := t.store.Search(ctx, query, t.k)
	if err != nil {
		return "", fmt.Errorf("knowledge search: %w", err)
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		blocks = append(blocks, fmt.Sprintf("--- Document %d ---\nID: %s\nContent: %s\n", i+1, r.Chunk.DocumentID, r.Chunk.Content))
	}
	return strings.Join(blocks, "\n"), nil
}

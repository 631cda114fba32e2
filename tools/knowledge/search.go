// Package knowledge implements the knowledge-base search tool over Bedrock
// knowledge-base retrieval. Empty results and transient unavailability are
// returned to the model as fixed sentinel strings rather than errors so the
// conversation can continue gracefully.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	bartypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"goa.design/voz/tools"
)

// Sentinel strings returned to the model in place of errors. These are part of
// the tool's contract: the model treats them as answers, not failures.
const (
	NoResults     = "No relevant information found in knowledge base"
	Unavailable   = "Knowledge base temporarily unavailable. Please try again later."
	NotConfigured = "Knowledge base not configured"
)

const (
	defaultTopK = 3

	resultSeparator = "\n\n---\n\n"
)

// RetrieveClient mirrors the subset of the Bedrock agent runtime client used
// by the searcher. It matches *bedrockagentruntime.Client.
type RetrieveClient interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// Options configures the knowledge-base searcher.
type Options struct {
	// Client provides access to knowledge-base retrieval. Required.
	Client RetrieveClient

	// KnowledgeBaseID identifies the knowledge base to query. When empty the
	// tool answers with the NotConfigured sentinel instead of failing.
	KnowledgeBaseID string

	// TopK is the number of passages requested per query. Defaults to 3.
	TopK int
}

// Searcher issues retrieval requests and formats passages for the model.
type Searcher struct {
	client RetrieveClient
	kbID   string
	topK   int
}

// New builds a Searcher.
func New(opts Options) (*Searcher, error) {
	if opts.Client == nil {
		return nil, errors.New("retrieve client is required")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Searcher{client: opts.Client, kbID: opts.KnowledgeBaseID, topK: topK}, nil
}

// Tool returns the registry entry for the searcher.
func (s *Searcher) Tool() *tools.Tool {
	return &tools.Tool{
		Name: "search_knowledge_base",
		Description: "Search telecom FAQ knowledge base for specific information about plans, " +
			"billing, technical issues, service coverage, pricing, account management, or " +
			"troubleshooting. Use specific keywords related to the user question.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type": "string",
					"description": "Specific search terms related to telecom services " +
						`(e.g., "data plan pricing", "network coverage", "billing issues")`,
				},
			},
			"required": []any{"query"},
		},
		Execute: s.search,
	}
}

func (s *Searcher) search(ctx context.Context, params map[string]any) (string, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return "", errors.New("query is required")
	}
	if s.kbID == "" {
		return NotConfigured, nil
	}
	out, err := s.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(s.kbID),
		RetrievalQuery:  &bartypes.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &bartypes.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &bartypes.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(int32(s.topK)), //nolint:gosec // AWS SDK requires int32
			},
		},
	})
	if err != nil {
		// Transient unavailability is recovered locally into a sentinel the
		// model can relay; anything else propagates.
		if isUnavailable(err) {
			return Unavailable, nil
		}
		return "", fmt.Errorf("retrieve: %w", err)
	}
	return formatResults(out.RetrievalResults), nil
}

func formatResults(results []bartypes.KnowledgeBaseRetrievalResult) string {
	passages := make([]string, 0, len(results))
	for _, r := range results {
		if r.Content == nil || r.Content.Text == nil || *r.Content.Text == "" {
			continue
		}
		passages = append(passages, fmt.Sprintf("[Result %d]\n%s", len(passages)+1, *r.Content.Text))
	}
	if len(passages) == 0 {
		return NoResults
	}
	return strings.Join(passages, resultSeparator)
}

func isUnavailable(err error) bool {
	var sue *brtypes.ServiceUnavailableException
	if errors.As(err, &sue) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ServiceUnavailableException" {
		return true
	}
	return false
}

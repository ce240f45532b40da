package upstream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/sgconsulting/inference-gateway/internal/shared/errs"
)

const sqlFallbackSystemPrompt = `You are a business-intelligence assistant. Answer the user's question
about their marketing and sales data. When a SQL query would answer the
question, include it fenced in a ` + "```sql" + ` block after the answer.`

// OpenAIUpstream answers prompts directly through the OpenAI API. It is
// the failover backend used when the text-to-SQL microservice is down;
// answers come without executed query data.
type OpenAIUpstream struct {
	client *openai.Client
	model  string
}

func NewOpenAIUpstream(apiKey, model string) *OpenAIUpstream {
	return &OpenAIUpstream{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (u *OpenAIUpstream) Name() string {
	return "openai"
}

func (u *OpenAIUpstream) Query(ctx context.Context, req Request) (*Result, error) {
	resp, err := u.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: u.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sqlFallbackSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, errs.Upstream("OpenAI API error", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errs.Upstream("OpenAI returned no choices", nil)
	}

	answer, sql := splitSQLBlock(resp.Choices[0].Message.Content)

	return &Result{
		Answer:    answer,
		SQL:       sql,
		QueryData: json.RawMessage(nil),
	}, nil
}

// splitSQLBlock separates a fenced ```sql block from the surrounding
// answer text, if the model included one.
func splitSQLBlock(content string) (answer, sql string) {
	const open = "```sql"
	start := strings.Index(content, open)
	if start < 0 {
		return strings.TrimSpace(content), ""
	}

	rest := content[start+len(open):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(content), ""
	}

	sql = strings.TrimSpace(rest[:end])
	answer = strings.TrimSpace(strings.TrimSpace(content[:start]) + " " + strings.TrimSpace(rest[end+3:]))
	return answer, sql
}

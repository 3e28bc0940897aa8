package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	model string
	opts  []option.RequestOption
}

// NewOpenAI creates a client for the given endpoint. baseURL may be empty
// to use the official API.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{model: model, opts: opts}, nil
}

// Chat sends messages to the backend. When jsonSchema is non-nil the schema
// is rendered into an extra system instruction; small models follow it well
// enough and the callers all parse defensively.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, jsonSchema *Schema) (string, error) {
	client := openai.NewClient(c.opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	if jsonSchema != nil {
		msgs = append(msgs, openai.SystemMessage(renderSchemaInstruction(jsonSchema)))
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrBackendUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func renderSchemaInstruction(s *Schema) string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Respond with ONLY a single valid JSON object with these fields:\n")
	for _, name := range names {
		prop := s.Properties[name]
		fmt.Fprintf(&sb, "- %q (%s): %s\n", name, prop.Type, prop.Description)
	}
	if len(s.Required) > 0 {
		b, _ := json.Marshal(s.Required)
		fmt.Fprintf(&sb, "Required: %s\n", b)
	}
	sb.WriteString("No prose, no markdown fences.")
	return sb.String()
}

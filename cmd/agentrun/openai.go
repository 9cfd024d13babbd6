package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/provider"
)

// openAIClient adapts any OpenAI-compatible endpoint to the runtime's
// ChatClient contract. This is the embedder-side transport the core
// treats as an external collaborator; vendor specifics stay out of the
// runtime packages.
type openAIClient struct {
	name   string
	client *openai.Client
}

func newOpenAIClient(name, apiKey, baseURL string) *openAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIClient{name: name, client: openai.NewClientWithConfig(cfg)}
}

func (c *openAIClient) Name() string { return c.name }

func (c *openAIClient) buildRequest(req provider.Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		messages = append(messages, om)
	}

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, schema := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			},
		})
	}

	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Tools:    tools,
	}
	if temp, ok := req.Options["temperature"].(float64); ok {
		out.Temperature = float32(temp)
	}
	return out
}

// Complete implements provider.ChatClient.
func (c *openAIClient) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		return provider.Response{}, err
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	out := provider.Response{
		Text: choice.Content,
		Usage: protocol.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream implements provider.ChatClient.
func (c *openAIClient) Stream(ctx context.Context, req provider.Request) (<-chan provider.Delta, error) {
	apiReq := c.buildRequest(req)
	apiReq.Stream = true
	apiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.Delta, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var usage protocol.TokenUsage
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- provider.Delta{Done: true, Usage: usage}
				return
			}
			if err != nil {
				out <- provider.Delta{Err: err}
				return
			}

			if chunk.Usage != nil {
				usage = protocol.TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				out <- provider.Delta{Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				out <- provider.Delta{ToolCallDelta: &provider.ToolCallDelta{
					Index:            index,
					ID:               tc.ID,
					Name:             tc.Function.Name,
					ArgumentFragment: tc.Function.Arguments,
				}}
			}
		}
	}()
	return out, nil
}

// Package genai provides the LLM gateway for CoachFlow.
//
// This file implements the optional OpenAI chat-completion backend that sits
// at the tail of the Gemini fallback chain.
package genai

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

type openAIBackend struct {
	client *openai.Client
	model  string
}

func newOpenAIBackend(apiKey, model string) *openAIBackend {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// generate ignores the model argument; the OpenAI model is fixed at
// construction since this backend is a single last-resort provider.
func (b *openAIBackend) generate(ctx context.Context, _ string, req Request) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}
	if req.JSONResponse {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		slog.Error("openAIBackend.generate: request failed", "model", b.model, "error", err)
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

package utils

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"mation/config"
)

// ChatTurn is one prior message of an AI conversation.
type ChatTurn struct {
	Role    string // "user" or "assistant"
	Content string
}

// AICompleter generates a reply from a configured prompt, optional prior
// turns, and the inbound text.
type AICompleter interface {
	Complete(ctx context.Context, prompt string, history []ChatTurn, userText string) (string, error)
}

// OpenAICompleter runs chat completions against the OpenAI API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

func NewOpenAICompleter() *OpenAICompleter {
	return &OpenAICompleter{
		client: openai.NewClient(config.AppConfig.OpenAIKey),
		model:  openai.GPT4o,
	}
}

// Complete builds the chat request. The system instruction is the listener's
// prompt plus an explicit brevity constraint so replies fit a DM bubble.
func (a *OpenAICompleter) Complete(ctx context.Context, prompt string, history []ChatTurn, userText string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt + ". Keep responses under 2 sentences.",
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completion returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}

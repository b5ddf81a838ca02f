package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kozaktomas/album-curator/internal/styles"
)

const defaultOpenAIModel = "gpt-4.1-mini"

type OpenAINamer struct {
	client *openai.Client
	model  string
	usage  Usage
}

func NewOpenAINamer(apiKey, model string, opts ...option.RequestOption) *OpenAINamer {
	if model == "" {
		model = defaultOpenAIModel
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAINamer{client: &client, model: model}
}

func (p *OpenAINamer) Name() string {
	return p.model
}

func (p *OpenAINamer) GetUsage() *Usage {
	return &p.usage
}

func (p *OpenAINamer) NameCluster(ctx context.Context, hint styles.NameHint) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(buildNameContent(hint))}
	if img := hintImage(hint); img != nil {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			Detail: "low",
		}))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(clusterNamePrompt),
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		},
	}

	var lastError error
	for range maxRetries {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(p.model),
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(60),
		})
		if err != nil {
			return "", fmt.Errorf("OpenAI API error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no response from OpenAI")
		}
		p.usage.InputTokens += int(resp.Usage.PromptTokens)
		p.usage.OutputTokens += int(resp.Usage.CompletionTokens)

		content := resp.Choices[0].Message.Content
		name, err := parseName(content)
		if err != nil {
			lastError = err
			messages = append(messages, openai.AssistantMessage(content), openai.UserMessage(retryMessage(err)))
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("no usable name after %d attempts: %w", maxRetries, lastError)
}

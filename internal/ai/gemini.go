package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/kozaktomas/album-curator/internal/styles"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiNamer struct {
	client *genai.Client
	model  string
	usage  Usage
}

func NewGeminiNamer(ctx context.Context, apiKey, model string) (*GeminiNamer, error) {
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiNamer{client: client, model: model}, nil
}

func (p *GeminiNamer) Name() string {
	return p.model
}

func (p *GeminiNamer) GetUsage() *Usage {
	return &p.usage
}

func (p *GeminiNamer) NameCluster(ctx context.Context, hint styles.NameHint) (string, error) {
	parts := []*genai.Part{{Text: clusterNamePrompt + "\n\n" + buildNameContent(hint)}}
	if img := hintImage(hint); img != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img, MIMEType: "image/jpeg"}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	var lastError error
	for range maxRetries {
		result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
		if err != nil {
			return "", fmt.Errorf("gemini API error: %w", err)
		}
		if result.UsageMetadata != nil {
			p.usage.InputTokens += int(result.UsageMetadata.PromptTokenCount)
			p.usage.OutputTokens += int(result.UsageMetadata.CandidatesTokenCount)
		}

		content := result.Text()
		if content == "" {
			return "", errors.New("no response from Gemini")
		}
		name, err := parseName(content)
		if err != nil {
			lastError = err
			contents = append(contents,
				&genai.Content{Role: "model", Parts: []*genai.Part{{Text: content}}},
				&genai.Content{Role: "user", Parts: []*genai.Part{{Text: retryMessage(err)}}},
			)
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("no usable name after %d attempts: %w", maxRetries, lastError)
}

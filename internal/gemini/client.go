package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Client generates images with a Gemini image model.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	prefix string
	log    *slog.Logger
}

func NewClient(ctx context.Context, apiKey, modelName, promptPrefix string, log *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetCandidateCount(1)

	return &Client{
		client: client,
		model:  model,
		prefix: promptPrefix,
		log:    log,
	}, nil
}

// Generate returns the bytes of the first inline image in the response.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	resp, err := c.model.GenerateContent(ctx, genai.Text(c.prefix+prompt))
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	data, mime, ok := firstImage(resp)
	if !ok {
		return nil, fmt.Errorf("no image in gemini response")
	}
	if c.log != nil {
		c.log.Info("gemini image generated", "mime_type", mime, "bytes", len(data))
	}
	return data, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func firstImage(resp *genai.GenerateContentResponse) ([]byte, string, bool) {
	if resp == nil {
		return nil, "", false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				return blob.Data, blob.MIMEType, true
			}
		}
	}
	return nil, "", false
}

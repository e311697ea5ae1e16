package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/vision"
)

var ErrUnrecognized = errors.New("unrecognized category")

type Categorizer struct {
	client *anthropic.Client
	model  string
}

func NewCategorizer(apiKey, model string, opts ...anthropic.ClientOption) *Categorizer {
	return &Categorizer{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *Categorizer) Categorize(ctx context.Context, r io.Reader, mimeType string) (domain.MediaCategory, error) {
	imageData, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		// The reply is a single category name.
		MaxTokens: 32,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(mimeType),
					base64.StdEncoding.EncodeToString(imageData),
				)),
				anthropic.NewTextMessageContent(vision.CategorizePrompt),
			},
		}},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("claude rejected request (%s): %w", apiErr.Type, err)
		}
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	text := resp.GetFirstContentText()
	category, ok := vision.ParseCategory(text)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnrecognized, text)
	}
	return category, nil
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
// Unknown types are sent as jpeg.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}

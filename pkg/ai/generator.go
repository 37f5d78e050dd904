package ai

import (
	"context"
	"strings"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

// Generate renders the prompt for kind and returns the model's trimmed reply.
// An empty reply is a provider_error failure.
func (c *Client) Generate(ctx context.Context, cred Credential, kind PromptKind, input PromptInput, opts Options) (string, error) {
	prompt, err := RenderPrompt(kind, input)
	if err != nil {
		return "", err
	}

	temperature := c.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	resp, err := c.Complete(ctx, cred, &CompletionRequest{
		Model:       c.cfg.Model,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", mnerrors.NewStageError(mnerrors.CodeProviderError, "", "model returned an empty "+string(kind)+" response", nil)
	}
	return text, nil
}

var _ Generator = (*Client)(nil)

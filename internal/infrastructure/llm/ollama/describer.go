package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
)

// Describer turns an image file into a textual description through the
// configured vision model.
type Describer struct {
	client *Client
}

func NewDescriber(client *Client) *Describer {
	return &Describer{client: client}
}

func (d *Describer) Describe(ctx context.Context, imagePath string) (string, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	description, err := d.client.generateVision(ctx, imagePrompt, []string{encoded})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	return description, nil
}

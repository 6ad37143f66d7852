package embedding

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/haruki/chronosearch/internal/config"
)

// JinaEmbedder calls the Jina CLIP embeddings API. Text and image inputs
// share one vector space, which is what lets a text query rank video frames.
type JinaEmbedder struct {
	client     *resty.Client
	model      string
	endpoint   string
	dimensions int
}

// NewJinaEmbedder creates a Jina API client.
// Parameters:
//   - cfg: embedding configuration (model, API key, base URL, dimensions).
// Returns:
//   - *JinaEmbedder: configured client.
func NewJinaEmbedder(cfg *config.EmbeddingConfig) *JinaEmbedder {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.jina.ai/v1"
	}

	return &JinaEmbedder{
		client:     client,
		model:      cfg.Model,
		endpoint:   baseURL + "/embeddings",
		dimensions: cfg.Dimensions,
	}
}

// Dimensions returns the configured output dimension.
func (e *JinaEmbedder) Dimensions() int {
	return e.dimensions
}

// jinaInput is one item of a multimodal embeddings request. Exactly one of
// Text or Image is set.
type jinaInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // base64-encoded bytes
}

type jinaRequest struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions,omitempty"`
	Input      []jinaInput `json:"input"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// EmbedText embeds a single text string.
func (e *JinaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []jinaInput{{Text: text}})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImage embeds raw image bytes.
func (e *JinaEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	vecs, err := e.embed(ctx, []jinaInput{{Image: base64.StdEncoding.EncodeToString(data)}})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImages embeds a batch of images in one API call, preserving order.
func (e *JinaEmbedder) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	if len(images) == 0 {
		return [][]float32{}, nil
	}
	inputs := make([]jinaInput, len(images))
	for i, img := range images {
		inputs[i] = jinaInput{Image: base64.StdEncoding.EncodeToString(img)}
	}
	return e.embed(ctx, inputs)
}

func (e *JinaEmbedder) embed(ctx context.Context, inputs []jinaInput) ([][]float32, error) {
	req := jinaRequest{
		Model:      e.model,
		Dimensions: e.dimensions,
		Input:      inputs,
	}

	var resp jinaResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(e.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("Jina API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("Jina API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(inputs))
	}

	// Sort by index to ensure correct order
	vecs := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		if item.Index < len(vecs) {
			vecs[item.Index] = item.Embedding
		}
	}

	return vecs, nil
}

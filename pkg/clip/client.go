// Package clip is a client for a CLIP inference server that embeds text and
// images into the same vector space.
//
// The server contract is two JSON endpoints:
//
//	POST /embed/text  {"text": "..."}          -> {"embedding": [...]}
//	POST /embed/image {"image": "<base64 jpeg>"} -> {"embedding": [...]}
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
)

// InputSize is the square edge CLIP vision models expect.
const InputSize = 224

// Client calls a CLIP inference server.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates a CLIP client.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the text embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.post(ctx, "/embed/text", map[string]string{"text": text, "model": c.model})
}

// EmbedImage decodes img, center-crops it to InputSize and returns its embedding.
func (c *Client) EmbedImage(ctx context.Context, img []byte) ([]float32, error) {
	prepared, err := Prepare(img)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, "/embed/image", map[string]string{
		"image": base64.StdEncoding.EncodeToString(prepared),
		"model": c.model,
	})
}

// Prepare decodes any supported image format and re-encodes a square JPEG of
// InputSize, so uploads stay small and the server does no resizing.
func Prepare(img []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(img), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("clip: decode image: %w", err)
	}
	dst := imaging.Fill(src, InputSize, InputSize, imaging.Center, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("clip: encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]float32, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("clip: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("clip %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("clip %s: decode: %w", path, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("clip %s: empty embedding", path)
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

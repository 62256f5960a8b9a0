package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultImageModelURL is the FLUX.1-schnell endpoint on the Hugging Face
// inference router.
const DefaultImageModelURL = "https://router.huggingface.co/hf-inference/models/black-forest-labs/FLUX.1-schnell"

const (
	imageRequestTimeout = 120 * time.Second
	imageSize           = 1024
	inferenceSteps      = 28
	guidanceScale       = 7.5

	// Anything shorter cannot be an image; the API sometimes answers 200
	// with an empty or near-empty body.
	minImageBytes = 100
	maxImageBytes = 32 << 20
)

var (
	// ErrModelWarmingUp means the endpoint answered 503 while loading the
	// model. Retrying after a minute or two usually succeeds.
	ErrModelWarmingUp = errors.New("llm: image model is warming up, try again in 1-2 minutes")

	// ErrEmptyImage means the endpoint answered without a usable image.
	ErrEmptyImage = errors.New("llm: empty response from image API")
)

// HFImageClient implements ImageGenerator on a Hugging Face text-to-image
// inference endpoint.
type HFImageClient struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ ImageGenerator = (*HFImageClient)(nil)

// NewHFImageClient creates a client for endpoint (DefaultImageModelURL
// when empty). Every request carries token as a bearer credential: the
// oauth2 transport adds the Authorization header.
func NewHFImageClient(ctx context.Context, token, endpoint string, logger *slog.Logger) (*HFImageClient, error) {
	if token == "" {
		return nil, errors.New("llm: hugging face token is empty")
	}
	if endpoint == "" {
		endpoint = DefaultImageModelURL
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = imageRequestTimeout

	return &HFImageClient{
		url:    endpoint,
		client: client,
		logger: logger.With(slog.String("component", "hf-image")),
	}, nil
}

type imageRequest struct {
	Inputs     string          `json:"inputs"`
	Parameters imageParameters `json:"parameters"`
}

type imageParameters struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
}

// Generate renders prompt and returns the raw image bytes as served by the
// endpoint (PNG or JPEG).
func (c *HFImageClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(imageRequest{
		Inputs: prompt,
		Parameters: imageParameters{
			Width:             imageSize,
			Height:            imageSize,
			NumInferenceSteps: inferenceSteps,
			GuidanceScale:     guidanceScale,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: encoding image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: building image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("llm: calling image API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, ErrModelWarmingUp
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm: image API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("llm: reading image: %w", err)
	}
	if len(img) < minImageBytes {
		return nil, ErrEmptyImage
	}

	c.logger.Debug("image generated",
		slog.Int("bytes", len(img)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return img, nil
}

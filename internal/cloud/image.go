// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/model"
)

// =============================================================================
// IMAGE-CAPABLE MODELS
// =============================================================================

// ImageModels lists the models known to return images, in fallback order.
var ImageModels = []string{
	"google/gemini-2.5-flash-image-preview",
	"openai/gpt-5-image-mini",
	"openai/gpt-5-image",
	"google/gemini-2.5-flash-image-preview:free",
}

// SupportsImages reports whether modelID is on the image allow-list.
func SupportsImages(modelID string) bool {
	for _, id := range ImageModels {
		if id == modelID {
			return true
		}
	}
	return false
}

// ImageOptions tunes GenerateImageReliable.
type ImageOptions struct {
	// MaxRetries is the number of extra tries per model.
	MaxRetries int
	Size       string
	Quality    string
}

// ImageResult is the outcome of GenerateImageReliable. Content is always
// usable: either the generated image or a textual failure report.
type ImageResult struct {
	Content   model.Content
	Model     string
	Attempted []string
	Err       error
}

// OK reports whether an image was produced.
func (r ImageResult) OK() bool {
	return r.Err == nil
}

var markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)

// extractImages returns content that holds at least one image reference, or
// an error when there is none.
func extractImages(c model.Content) (model.Content, error) {
	if c.HasImage() {
		return c, nil
	}

	text := c.String()
	var parts []model.ContentPart
	for _, m := range markdownImage.FindAllStringSubmatch(text, -1) {
		parts = append(parts, model.ImagePart(m[1]))
	}
	if len(parts) == 0 {
		if i := strings.Index(text, "data:image/"); i >= 0 {
			uri := text[i:]
			if j := strings.IndexAny(uri, " \n\t)\"'"); j > 0 {
				uri = uri[:j]
			}
			parts = append(parts, model.ImagePart(uri))
		}
	}
	if len(parts) == 0 {
		return model.Content{}, &MalformedResponseError{Reason: "response contains no image"}
	}

	if caption := strings.TrimSpace(markdownImage.ReplaceAllString(text, "")); caption != "" && !strings.HasPrefix(caption, "data:image/") {
		parts = append([]model.ContentPart{model.TextPart(caption)}, parts...)
	}
	return model.Parts(parts...), nil
}

// GenerateImageReliable asks modelID for an image, then each other model in
// ImageModels, retrying each with exponential backoff. It never returns an
// error value: exhaustion yields a textual report naming every model tried.
func (c *Client) GenerateImageReliable(ctx context.Context, prompt, apiKey, modelID string, opts ImageOptions) ImageResult {
	if apiKey == "" {
		return imageFailure(nil, ErrNotConfigured)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	order := make([]string, 0, len(ImageModels)+1)
	order = append(order, modelID)
	for _, id := range ImageModels {
		if id != modelID {
			order = append(order, id)
		}
	}

	var cfg *imageConfig
	if opts.Size != "" || opts.Quality != "" {
		cfg = &imageConfig{Size: opts.Size, Quality: opts.Quality}
	}

	chain := make([]attempt[model.Content], 0, len(order))
	for _, id := range order {
		body := chatRequest{
			Model:       id,
			Messages:    []wireMessage{{Role: string(model.RoleUser), Content: model.Text(prompt)}},
			Modalities:  []string{"image", "text"},
			ImageConfig: cfg,
		}
		chain = append(chain, attempt[model.Content]{
			name:    id,
			retries: opts.MaxRetries,
			run: func(ctx context.Context, _ int) (model.Content, error) {
				content, err := c.complete(ctx, apiKey, body)
				if err != nil {
					return model.Content{}, err
				}
				return extractImages(content)
			},
			retryable: func(err error) bool {
				return !IsAbort(err)
			},
		})
	}

	res, err := runChain(ctx, c.logger, c.calculateBackoff, chain)
	if err != nil {
		c.logger.Warn("image generation exhausted",
			zap.Strings("models", res.tried),
			zap.Int("attempts", res.attempts),
			zap.Error(err))
		return imageFailure(res.tried, err)
	}
	if res.winner != modelID {
		c.logger.Info("image generated by fallback model",
			zap.String("requested", modelID),
			zap.String("model", res.winner))
	}
	return ImageResult{Content: res.value, Model: res.winner, Attempted: res.tried}
}

func imageFailure(tried []string, err error) ImageResult {
	var sb strings.Builder
	sb.WriteString("Image generation failed")
	if IsAbort(err) {
		sb.WriteString(" (cancelled)")
	}
	if len(tried) > 0 {
		fmt.Fprintf(&sb, " after trying %d model(s): %s", len(tried), strings.Join(tried, ", "))
	}
	fmt.Fprintf(&sb, ". Last error: %v", err)
	return ImageResult{
		Content:   model.Parts(model.TextPart(sb.String())),
		Attempted: tried,
		Err:       err,
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// CONTENT PARTS
// =============================================================================

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one typed fragment of multimodal content.
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart returns an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// =============================================================================
// CONTENT
// =============================================================================

// Content is either plain text or an ordered list of parts. When Parts is
// non-nil the content is multimodal and Text is ignored.
type Content struct {
	Text  string
	Parts []ContentPart
}

// Text returns plain-text content.
func Text(s string) Content {
	return Content{Text: s}
}

// Parts returns multimodal content.
func Parts(parts ...ContentPart) Content {
	if parts == nil {
		parts = []ContentPart{}
	}
	return Content{Parts: parts}
}

// IsMultimodal reports whether the content is a part list.
func (c Content) IsMultimodal() bool {
	return c.Parts != nil
}

// String flattens the content to text. Image parts are omitted.
func (c Content) String() string {
	if !c.IsMultimodal() {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// HasImage reports whether any part references an image.
func (c Content) HasImage() bool {
	for _, p := range c.Parts {
		if p.Type == PartImageURL && p.ImageURL != nil && p.ImageURL.URL != "" {
			return true
		}
	}
	return false
}

// Images returns the image references in order.
func (c Content) Images() []string {
	var urls []string
	for _, p := range c.Parts {
		if p.Type == PartImageURL && p.ImageURL != nil && p.ImageURL.URL != "" {
			urls = append(urls, p.ImageURL.URL)
		}
	}
	return urls
}

// IsEmpty reports whether the content holds no text and no image.
func (c Content) IsEmpty() bool {
	return strings.TrimSpace(c.String()) == "" && !c.HasImage()
}

// Clone returns a copy that shares no slices with c.
func (c Content) Clone() Content {
	if c.Parts == nil {
		return c
	}
	parts := make([]ContentPart, len(c.Parts))
	for i, p := range c.Parts {
		if p.ImageURL != nil {
			u := *p.ImageURL
			p.ImageURL = &u
		}
		parts[i] = p
	}
	return Content{Parts: parts}
}

// MarshalJSON encodes text content as a JSON string and multimodal content
// as an array of parts, matching the completion API wire format.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsMultimodal() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Parts(parts...)
		return nil
	default:
		return fmt.Errorf("content: unexpected JSON token %q", data[0])
	}
}

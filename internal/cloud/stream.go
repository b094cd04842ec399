// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/model"
)

// MaxEventSize caps a single SSE event. Larger events abort the stream.
const MaxEventSize = 1024 * 1024

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one decoded SSE payload.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error,omitempty"`
}

// GetContent returns the delta text of the first choice.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone reports whether the first choice carries a finish reason.
func (c *StreamChunk) IsDone() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != nil && *c.Choices[0].FinishReason != ""
}

// DeltaFunc receives each text fragment in arrival order.
type DeltaFunc func(delta string)

// StreamResult is the outcome of StreamCompletion.
type StreamResult struct {
	// Text is everything delivered to the DeltaFunc.
	Text string

	// Aborted is set when the caller's context was cancelled. Text then
	// holds the partial reply.
	Aborted bool

	// FellBack is set when the stream could not be opened and the reply
	// came from a single-shot request.
	FellBack bool

	// Content is the complete reply. A single-shot fallback may carry image
	// parts that Text leaves out.
	Content model.Content
}

// Reply returns Content, or Text when Content was not filled in.
func (r StreamResult) Reply() model.Content {
	if r.Content.IsMultimodal() || r.Content.Text != "" {
		return r.Content
	}
	return model.Text(r.Text)
}

// setupError marks a failure that happened before any delta was delivered,
// so retrying through another path cannot duplicate output.
type setupError struct{ err error }

func (e *setupError) Error() string { return e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

func isSetupFailure(err error) bool {
	var se *setupError
	return errors.As(err, &se)
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events. Partial lines are buffered across
// reads of the underlying stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ReadEvent returns the event type and the joined data lines of the next
// event. Comment lines and unknown fields are skipped. It returns io.EOF
// when the stream ends with no pending data.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var data [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(err == io.EOF && len(line) > 0) {
			if err == io.EOF && len(data) > 0 {
				return eventType, bytes.Join(data, []byte("\n")), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(data) > 0 {
				return eventType, bytes.Join(data, []byte("\n")), nil
			}
			if err == io.EOF {
				return "", nil, io.EOF
			}
			continue
		}

		switch {
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			value := line[len("data:"):]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			size += len(value)
			if size > MaxEventSize {
				return "", nil, fmt.Errorf("sse event exceeds %d bytes", MaxEventSize)
			}
			data = append(data, append([]byte(nil), value...))
		}

		if err == io.EOF {
			if len(data) > 0 {
				return eventType, bytes.Join(data, []byte("\n")), nil
			}
			return "", nil, io.EOF
		}
	}
}

// =============================================================================
// STREAMING COMPLETION
// =============================================================================

// StreamCompletion streams a completion, calling onDelta for every text
// fragment. If the stream cannot be opened it falls back to SendCompletion
// and delivers the whole reply as one delta. Cancelling ctx ends the call
// with Aborted set and a nil error.
func (c *Client) StreamCompletion(ctx context.Context, req Request, onDelta DeltaFunc) (StreamResult, error) {
	if req.APIKey == "" {
		return StreamResult{}, ErrNotConfigured
	}
	if onDelta == nil {
		onDelta = func(string) {}
	}

	var delivered strings.Builder
	emit := func(delta string) {
		delivered.WriteString(delta)
		onDelta(delta)
	}

	chain := []attempt[model.Content]{
		{
			name: "stream",
			run: func(ctx context.Context, _ int) (model.Content, error) {
				text, err := c.stream(ctx, req, emit)
				return model.Text(text), err
			},
			advance: isSetupFailure,
		},
		{
			name:      "single-shot",
			retries:   c.maxRetries,
			retryable: isRetryable,
			run: func(ctx context.Context, _ int) (model.Content, error) {
				content, err := c.complete(ctx, req.APIKey, c.buildRequest(req, false))
				if err != nil {
					return model.Content{}, err
				}
				if content.IsEmpty() {
					return model.Content{}, &MalformedResponseError{Reason: "completion has no content"}
				}
				if text := content.String(); text != "" {
					emit(text)
				}
				return content, nil
			},
		},
	}

	res, err := runChain(ctx, c.logger, c.calculateBackoff, chain)
	if err != nil {
		if IsAbort(err) || ctx.Err() != nil {
			return StreamResult{Text: delivered.String(), Aborted: true}, nil
		}
		var se *setupError
		if errors.As(err, &se) {
			err = se.err
		}
		return StreamResult{Text: delivered.String()}, err
	}
	if res.winner != "stream" {
		c.logger.Info("stream unavailable, used single-shot completion", zap.String("model", req.ModelID))
	}
	return StreamResult{
		Text:     res.value.String(),
		FellBack: res.winner != "stream",
		Content:  res.value,
	}, nil
}

// stream opens the SSE transport and drains it. Errors before the first
// delta are wrapped in setupError.
func (c *Client) stream(ctx context.Context, req Request, emit DeltaFunc) (string, error) {
	resp, err := c.post(ctx, c.streamClient, req.APIKey, c.buildRequest(req, true))
	if err != nil {
		if IsAbort(err) {
			return "", err
		}
		return "", &setupError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", &setupError{err: parseAPIError(resp.StatusCode, body)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return "", &setupError{err: &MalformedResponseError{Reason: "stream response has no body"}}
	}

	var sb strings.Builder
	err = c.processStream(ctx, resp.Body, func(delta string) {
		sb.WriteString(delta)
		emit(delta)
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return sb.String(), ctx.Err()
	case err != nil && sb.Len() == 0:
		return "", &setupError{err: err}
	case err != nil:
		return sb.String(), &StreamError{Partial: sb.String(), Err: err}
	case sb.Len() == 0:
		return "", &setupError{err: &MalformedResponseError{Reason: "stream ended without content"}}
	}
	return sb.String(), nil
}

// processStream reads events until [DONE], a finish reason, or EOF.
// Undecodable payloads are skipped.
func (c *Client) processStream(ctx context.Context, body io.Reader, onDelta DeltaFunc) error {
	reader := NewSSEReader(body)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &NetworkError{Op: "read stream", Err: err}
		}

		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Debug("skipping malformed stream frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return &APIError{
				Status:  http.StatusOK,
				Code:    strings.Trim(string(chunk.Error.Code), `"`),
				Message: chunk.Error.Message,
			}
		}

		if delta := chunk.GetContent(); delta != "" {
			onDelta(delta)
		}
		if chunk.IsDone() {
			return nil
		}
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/multichat/internal/model"
)

const testKey = "sk-or-test-key"

func newTestClient(url string) *Client {
	c := NewClient().WithBaseURL(url).WithSiteURL("https://example.test").WithSiteName("multichat-test")
	c.retryBase = time.Millisecond
	return c
}

func completionJSON(content string) string {
	b, _ := json.Marshal(content)
	return fmt.Sprintf(`{"id":"x","model":"m","choices":[{"message":{"role":"assistant","content":%s},"finish_reason":"stop"}]}`, b)
}

func decodeBody(t *testing.T, r *http.Request) chatRequest {
	t.Helper()
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request body: %v", err)
	}
	return body
}

// =============================================================================
// SINGLE-SHOT TESTS
// =============================================================================

func TestSendCompletion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testKey {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("HTTP-Referer"); got != "https://example.test" {
			t.Errorf("HTTP-Referer = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "multichat-test" {
			t.Errorf("X-Title = %q", got)
		}

		body := decodeBody(t, r)
		if body.Model != "m1" || body.Stream {
			t.Errorf("unexpected body model=%q stream=%v", body.Model, body.Stream)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[0].Content.String() != "be brief" {
			t.Errorf("system prompt should be the first message, got %+v", body.Messages)
		}
		w.Write([]byte(completionJSON("Hi there")))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, err := c.SendCompletion(context.Background(), Request{
		APIKey:       testKey,
		ModelID:      "m1",
		Messages:     []model.Message{model.NewUserMessage("Hello")},
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("SendCompletion: %v", err)
	}
	if got.String() != "Hi there" {
		t.Errorf("content = %q", got.String())
	}
}

func TestSendCompletion_MissingKey(t *testing.T) {
	_, err := NewClient().SendCompletion(context.Background(), Request{ModelID: "m1"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSendCompletion_APIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":401,"message":"No auth credentials found"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SendCompletion(context.Background(), Request{APIKey: testKey, ModelID: "m1"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T %v, want *APIError", err, err)
	}
	if apiErr.Status != 401 || apiErr.Message != "No auth credentials found" || apiErr.Code != "401" {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
	if !errors.Is(err, ErrAuthFailed) {
		t.Error("401 should match ErrAuthFailed")
	}
	if calls.Load() != 1 {
		t.Errorf("401 should not be retried, got %d calls", calls.Load())
	}
}

func TestSendCompletion_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(completionJSON("third time")))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).SendCompletion(context.Background(), Request{APIKey: testKey, ModelID: "m1"})
	if err != nil {
		t.Fatalf("SendCompletion: %v", err)
	}
	if got.String() != "third time" {
		t.Errorf("content = %q", got.String())
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSendCompletion_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"no choices", `{"id":"x","choices":[]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).SendCompletion(context.Background(), Request{APIKey: testKey, ModelID: "m1"})
			var mErr *MalformedResponseError
			if !errors.As(err, &mErr) {
				t.Errorf("err = %v, want *MalformedResponseError", err)
			}
		})
	}
}

func TestSendCompletion_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(url).WithMaxRetries(0)
	_, err := c.SendCompletion(context.Background(), Request{APIKey: testKey, ModelID: "m1"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("err = %T %v, want *NetworkError", err, err)
	}
}

func TestSendCompletion_ImagesMerged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Here you go","images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]}}]}`))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).SendCompletion(context.Background(), Request{APIKey: testKey, ModelID: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsMultimodal() || !got.HasImage() || got.String() != "Here you go" {
		t.Errorf("unexpected content %+v", got)
	}
}

func TestSendCompletion_Concurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		w.Write([]byte(completionJSON("reply from " + body.Model)))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%d", i%3)
			got, err := c.SendCompletion(context.Background(), Request{APIKey: testKey, ModelID: id})
			if err != nil {
				t.Errorf("SendCompletion: %v", err)
				return
			}
			if got.String() != "reply from "+id {
				t.Errorf("cross-talk: model %s got %q", id, got.String())
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader(t *testing.T) {
	input := ": keep-alive\n\n" +
		"event: message\ndata: {\"a\":1}\n\n" +
		"data: line1\ndata: line2\r\n\r\n" +
		"data: tail-without-blank-line"

	r := NewSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	if err != nil || ev != "message" || string(data) != `{"a":1}` {
		t.Fatalf("first event = %q %q %v", ev, data, err)
	}
	_, data, err = r.ReadEvent()
	if err != nil || string(data) != "line1\nline2" {
		t.Fatalf("second event = %q %v", data, err)
	}
	_, data, err = r.ReadEvent()
	if err != nil || string(data) != "tail-without-blank-line" {
		t.Fatalf("third event = %q %v", data, err)
	}
	if _, _, err = r.ReadEvent(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

// slowReader returns one byte per Read to exercise buffering across reads.
type slowReader struct{ r io.Reader }

func (s slowReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return s.r.Read(p)
}

func TestSSEReader_SplitReads(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	var got strings.Builder
	c := NewClient()
	err := c.processStream(context.Background(), slowReader{strings.NewReader(input)}, func(d string) { got.WriteString(d) })
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "Hello" {
		t.Errorf("got %q", got.String())
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func sseFrame(delta string) string {
	b, _ := json.Marshal(delta)
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n\n", b)
}

func TestStreamCompletion_DeltasInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !decodeBody(t, r).Stream {
			t.Error("expected stream=true")
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"The ", "quick ", "fox"} {
			io.WriteString(w, sseFrame(part))
			flusher.Flush()
		}
		io.WriteString(w, "data: {not json}\n\n")
		io.WriteString(w, ": OPENROUTER PROCESSING\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	var deltas []string
	res, err := newTestClient(server.URL).StreamCompletion(context.Background(),
		Request{APIKey: testKey, ModelID: "m1", Messages: []model.Message{model.NewUserMessage("hi")}},
		func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if res.Text != "The quick fox" || res.Aborted || res.FellBack {
		t.Errorf("unexpected result %+v", res)
	}
	if strings.Join(deltas, "|") != "The |quick |fox" {
		t.Errorf("deltas = %q", deltas)
	}
}

func TestStreamCompletion_FallsBackToSingleShot(t *testing.T) {
	var streamCalls, plainCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if decodeBody(t, r).Stream {
			streamCalls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"streaming unavailable"}}`))
			return
		}
		plainCalls.Add(1)
		w.Write([]byte(completionJSON("whole reply")))
	}))
	defer server.Close()

	var deltas []string
	res, err := newTestClient(server.URL).StreamCompletion(context.Background(),
		Request{APIKey: testKey, ModelID: "m1"},
		func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if !res.FellBack || res.Text != "whole reply" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(deltas) != 1 || deltas[0] != "whole reply" {
		t.Errorf("deltas = %q", deltas)
	}
	if streamCalls.Load() != 1 || plainCalls.Load() != 1 {
		t.Errorf("stream=%d plain=%d calls", streamCalls.Load(), plainCalls.Load())
	}
}

func TestStreamCompletion_FallbackKeepsImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if decodeBody(t, r).Stream {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"Here you go","images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]}}]}`))
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).StreamCompletion(context.Background(),
		Request{APIKey: testKey, ModelID: "m1"}, nil)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	reply := res.Reply()
	if !res.FellBack || !reply.HasImage() || reply.String() != "Here you go" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Text != "Here you go" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestStreamResult_ReplyFallsBackToText(t *testing.T) {
	if got := (StreamResult{Text: "plain"}).Reply(); got.String() != "plain" || got.IsMultimodal() {
		t.Errorf("Reply() = %+v", got)
	}
}

func TestStreamCompletion_BothPathsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"code":402,"message":"Insufficient credits"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).StreamCompletion(context.Background(), Request{APIKey: testKey, ModelID: "m1"}, nil)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("err = %v, want ErrInsufficientCredits", err)
	}
}

func TestStreamCompletion_AbortKeepsPartial(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseFrame("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := newTestClient(server.URL).StreamCompletion(ctx, Request{APIKey: testKey, ModelID: "m1"},
		func(d string) { cancel() })
	if err != nil {
		t.Fatalf("abort should not be an error, got %v", err)
	}
	if !res.Aborted || res.Text != "partial" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestStreamCompletion_MidStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseFrame("before "))
		io.WriteString(w, `data: {"error":{"code":"server_error","message":"upstream died"}}`+"\n\n")
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).StreamCompletion(context.Background(), Request{APIKey: testKey, ModelID: "m1"}, nil)
	var sErr *StreamError
	if !errors.As(err, &sErr) {
		t.Fatalf("err = %T %v, want *StreamError", err, err)
	}
	if sErr.Partial != "before " || res.Text != "before " {
		t.Errorf("partial = %q / %q", sErr.Partial, res.Text)
	}
}

// =============================================================================
// IMAGE GENERATION TESTS
// =============================================================================

func TestGenerateImageReliable_FallsBack(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		mu.Lock()
		seen = append(seen, body.Model)
		mu.Unlock()
		if len(body.Modalities) != 2 || body.Modalities[0] != "image" {
			t.Errorf("modalities = %v", body.Modalities)
		}
		if body.Model == ImageModels[0] {
			w.Write([]byte(completionJSON("I cannot draw right now")))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"","images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,QUJD"}}]}}]}`))
	}))
	defer server.Close()

	res := newTestClient(server.URL).GenerateImageReliable(context.Background(), "a cat", testKey, ImageModels[0], ImageOptions{MaxRetries: 1})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Model != ImageModels[1] {
		t.Errorf("winner = %q, want %q", res.Model, ImageModels[1])
	}
	if !res.Content.HasImage() {
		t.Error("content should hold the image")
	}
	// Primary tried twice (one retry), then the first fallback.
	if len(seen) != 3 || seen[0] != ImageModels[0] || seen[1] != ImageModels[0] || seen[2] != ImageModels[1] {
		t.Errorf("request order = %v", seen)
	}
}

func TestGenerateImageReliable_Exhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	res := newTestClient(server.URL).GenerateImageReliable(context.Background(), "a cat", testKey, "openai/gpt-5-image", ImageOptions{})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if len(res.Attempted) != len(ImageModels) {
		t.Errorf("attempted %d models, want %d", len(res.Attempted), len(ImageModels))
	}
	text := res.Content.String()
	for _, id := range ImageModels {
		if !strings.Contains(text, id) {
			t.Errorf("failure report %q does not name %s", text, id)
		}
	}
	if res.Content.HasImage() {
		t.Error("failure report should not contain an image")
	}
}

func TestExtractImages(t *testing.T) {
	tests := []struct {
		name    string
		content model.Content
		images  int
		wantErr bool
	}{
		{"parts", model.Parts(model.ImagePart("https://x/y.png")), 1, false},
		{"markdown", model.Text("Here: ![cat](https://x/cat.png)"), 1, false},
		{"data uri", model.Text("data:image/png;base64,AAAA"), 1, false},
		{"text only", model.Text("no image here"), 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractImages(tc.content)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if len(got.Images()) != tc.images {
				t.Errorf("images = %v", got.Images())
			}
		})
	}
}

func TestSupportsImages(t *testing.T) {
	if !SupportsImages("openai/gpt-5-image") {
		t.Error("gpt-5-image is image capable")
	}
	if SupportsImages("openai/gpt-4o-mini") {
		t.Error("gpt-4o-mini is not image capable")
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := NewClient()
	if c.calculateBackoff(1) != retryBaseDelay {
		t.Errorf("first backoff = %v", c.calculateBackoff(1))
	}
	if c.calculateBackoff(2) != 2*retryBaseDelay {
		t.Errorf("second backoff = %v", c.calculateBackoff(2))
	}
	if c.calculateBackoff(30) != retryMaxDelay {
		t.Errorf("backoff should cap at %v, got %v", retryMaxDelay, c.calculateBackoff(30))
	}
}

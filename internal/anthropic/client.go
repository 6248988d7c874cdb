// Package anthropic implements the Messages and Files APIs used by the
// response pipeline (document attachments, citations, SSE streaming).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"fincite/engine/internal/egress"
	"fincite/engine/internal/llm"
)

const defaultBaseURL = "https://api.anthropic.com"
const defaultVersion = "2023-06-01"
const filesBeta = "files-api-2025-04-14"

const defaultMaxTokens = 4096

// Client talks to the Anthropic API over plain net/http.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient() *Client {
	transport := egress.NewAllowlistRoundTripper(http.DefaultTransport, []string{"api.anthropic.com"})
	return &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout:   300 * time.Second,
			Transport: transport,
		},
	}
}

// UploadFile stores an attachment with the provider and returns its file
// handle. The caller enforces the size ceiling; this method only maps
// transport failures onto the shared error taxonomy.
func (c *Client) UploadFile(ctx context.Context, apiKey, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &body)
	if err != nil {
		return "", err
	}
	c.applyHeaders(req, apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, llm.ErrEgressBlocked) {
			return "", llm.ErrEgressBlocked
		}
		return "", err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return "", err
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", err
	}
	if uploaded.ID == "" {
		return "", errors.New("anthropic upload returned no file id")
	}
	return uploaded.ID, nil
}

// CreateMessage performs a one-shot generation call and returns the full
// content block list, citations included.
func (c *Client) CreateMessage(ctx context.Context, apiKey string, request llm.GenerateRequest) (llm.MessageResponse, error) {
	respBody, err := c.postMessages(ctx, apiKey, c.buildPayload(request, false))
	if err != nil {
		return llm.MessageResponse{}, err
	}
	defer respBody.Close()

	var response wireResponse
	if err := json.NewDecoder(respBody).Decode(&response); err != nil {
		return llm.MessageResponse{}, err
	}
	return response.toMessageResponse(), nil
}

// StreamMessage performs a streaming generation call, emitting a normalized
// event per provider SSE frame, and returns the accumulated response once
// the stream closes. Event order on the wire is preserved.
func (c *Client) StreamMessage(ctx context.Context, apiKey string, request llm.GenerateRequest, onEvent func(llm.StreamEvent)) (llm.MessageResponse, error) {
	respBody, err := c.postMessages(ctx, apiKey, c.buildPayload(request, true))
	if err != nil {
		return llm.MessageResponse{}, err
	}
	defer respBody.Close()

	emit := func(event llm.StreamEvent) {
		if onEvent != nil {
			onEvent(event)
		}
	}

	acc := newAccumulator()
	scanner := newSSEScanner(respBody)
	for scanner.Scan() {
		data, ok := scanner.Data()
		if !ok {
			continue
		}
		var frame wireStreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "content_block_start":
			if frame.ContentBlock != nil && frame.ContentBlock.Type == "tool_use" {
				acc.startToolBlock(frame.Index, frame.ContentBlock.Name)
				emit(llm.StreamEvent{Type: llm.EventToolStart, BlockIndex: frame.Index, ToolName: frame.ContentBlock.Name})
			}
		case "content_block_delta":
			if frame.Delta == nil {
				continue
			}
			switch frame.Delta.Type {
			case "text_delta":
				acc.appendText(frame.Index, frame.Delta.Text)
				emit(llm.StreamEvent{Type: llm.EventTextDelta, BlockIndex: frame.Index, Text: frame.Delta.Text})
			case "citations_delta":
				if frame.Delta.Citation == nil {
					continue
				}
				acc.appendCitation(frame.Index, *frame.Delta.Citation)
				emit(llm.StreamEvent{Type: llm.EventCitationDelta, BlockIndex: frame.Index, Citation: frame.Delta.Citation})
			}
		case "content_block_stop":
			if name, ok := acc.finishToolBlock(frame.Index); ok {
				emit(llm.StreamEvent{Type: llm.EventToolComplete, BlockIndex: frame.Index, ToolName: name})
			}
		case "message_delta":
			if frame.Delta != nil {
				acc.stopReason = frame.Delta.StopReason
			}
		case "message_stop":
			response := acc.response()
			emit(llm.StreamEvent{Type: llm.EventMessageComplete, Response: &response})
		case "error":
			err := streamError(frame.Error)
			emit(llm.StreamEvent{Type: llm.EventError, Err: err})
			return acc.response(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return acc.response(), err
	}
	return acc.response(), nil
}

func (c *Client) buildPayload(request llm.GenerateRequest, streaming bool) map[string]any {
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := map[string]any{
		"model":      request.Model,
		"max_tokens": maxTokens,
		"messages":   buildMessages(request.Messages, request.Attachments),
	}
	if request.System != "" {
		payload["system"] = request.System
	}
	if streaming {
		payload["stream"] = true
	}
	return payload
}

// buildMessages converts history into wire messages. Document blocks for the
// turn's attachments are prepended to the final user message with citations
// enabled, so every answer can point back at source pages.
func buildMessages(history []llm.Message, attachments []llm.AttachmentDecl) []map[string]any {
	messages := make([]map[string]any, 0, len(history))
	lastUser := -1
	for i, msg := range history {
		if msg.Role == "user" {
			lastUser = i
		}
	}
	for i, msg := range history {
		if i != lastUser || len(attachments) == 0 {
			messages = append(messages, map[string]any{
				"role":    msg.Role,
				"content": []map[string]any{{"type": "text", "text": msg.Content}},
			})
			continue
		}
		content := make([]map[string]any, 0, len(attachments)+1)
		for _, att := range attachments {
			content = append(content, map[string]any{
				"type":      "document",
				"source":    map[string]any{"type": "file", "file_id": att.Handle},
				"title":     att.Title,
				"citations": map[string]any{"enabled": true},
			})
		}
		content = append(content, map[string]any{"type": "text", "text": msg.Content})
		messages = append(messages, map[string]any{"role": msg.Role, "content": content})
	}
	return messages
}

func (c *Client) postMessages(ctx context.Context, apiKey string, payload map[string]any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req, apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, llm.ErrEgressBlocked) {
			return nil, llm.ErrEgressBlocked
		}
		return nil, err
	}
	if err := statusError(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) applyHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", defaultVersion)
	req.Header.Set("anthropic-beta", filesBeta)
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return llm.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return llm.ErrRateLimited
	case resp.StatusCode >= 500:
		return llm.ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s - %s", llm.ErrRejected, resp.Status, bytes.TrimSpace(detail))
	default:
		return nil
	}
}

func streamError(wireErr *wireError) error {
	if wireErr == nil {
		return llm.ErrUnavailable
	}
	if wireErr.Type == "overloaded_error" || wireErr.Type == "api_error" {
		return fmt.Errorf("%w: %s", llm.ErrUnavailable, wireErr.Message)
	}
	return fmt.Errorf("%w: %s", llm.ErrRejected, wireErr.Message)
}

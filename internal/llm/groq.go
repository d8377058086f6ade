// Package llm is a thin client for the Groq chat-completions API. The rest
// of the pipeline only sees two shapes: a token stream for spoken replies and
// a JSON-mode call for slot extraction.
package llm

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
	"time"
)

// ErrTimeout marks a request that ran out of its turn budget. The caller
// distinguishes it from hard failures because the recovery differs: a timeout
// gets the fallback utterance, a hard failure may end the call.
var ErrTimeout = errors.New("llm: deadline exceeded")

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GroqClient calls the Groq chat-completions endpoint. BaseURL is overridable
// for tests.
type GroqClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	BaseURL    string
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
	Delta        Message `json:"delta"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// NewGroqClient returns a client with sane timeouts for voice turns.
func NewGroqClient(apiKey, model string) *GroqClient {
	return &GroqClient{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    defaultBaseURL,
	}
}

func (c *GroqClient) endpoint() string {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/chat/completions"
}

func (c *GroqClient) post(ctx context.Context, body chatCompletionsRequest) (*http.Response, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("llm: groq api key missing")
	}
	raw, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("llm: groq status=%d body=%s", resp.StatusCode, string(b))
	}
	return resp, nil
}

// StreamChat starts a streaming completion and returns a token channel plus
// a one-shot error channel. The token channel closes when the stream ends;
// cancelling ctx aborts the request mid-stream.
func (c *GroqClient) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	tokens := make(chan string, 32)
	errc := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errc)

		resp, err := c.post(ctx, chatCompletionsRequest{
			Model:    c.Model,
			Messages: messages,
			Stream:   true,
		})
		if err != nil {
			errc <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}
			var chunk chatCompletionsResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			for _, ch := range chunk.Choices {
				if ch.Delta.Content == "" {
					continue
				}
				select {
				case tokens <- ch.Delta.Content:
				case <-ctx.Done():
					errc <- streamErr(ctx.Err())
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errc <- err
			return
		}
		if ctx.Err() != nil {
			errc <- streamErr(ctx.Err())
		}
	}()

	return tokens, errc
}

// Complete runs a non-streaming completion and returns the trimmed text.
func (c *GroqClient) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.post(ctx, chatCompletionsRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// ExtractJSON runs a completion in JSON mode with temperature zero and
// returns the raw object text for the caller to decode.
func (c *GroqClient) ExtractJSON(ctx context.Context, messages []Message) ([]byte, error) {
	zero := 0.0
	resp, err := c.post(ctx, chatCompletionsRequest{
		Model:          c.Model,
		Messages:       messages,
		Temperature:    &zero,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, err
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices")
	}
	return []byte(strings.TrimSpace(cr.Choices[0].Message.Content)), nil
}

func streamErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

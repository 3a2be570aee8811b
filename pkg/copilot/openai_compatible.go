package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAICompatibleClient satisfies Client against any OpenAI-chat-completions-
// compatible endpoint, generalized from the teacher's pkg/providers/llm
// OpenAILLM adapter (same request-build/response-decode shape, parameterized
// here over endpoint/model/header instead of hardcoded to api.openai.com).
type OpenAICompatibleClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewOpenAICompatibleClient builds a Client against endpoint (a full chat
// completions URL) authenticating with apiKey as a bearer token.
func NewOpenAICompatibleClient(endpoint, apiKey, model string) *OpenAICompatibleClient {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, turns []Turn) (Reply, error) {
	messages := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Text})
	}

	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal copilot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build copilot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("copilot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody any
		json.NewDecoder(resp.Body).Decode(&errBody)
		return Reply{}, fmt.Errorf("copilot adapter error (status %d): %v", resp.StatusCode, errBody)
	}

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Reply{}, fmt.Errorf("decode copilot response: %w", err)
	}
	if len(result.Choices) == 0 {
		return Reply{}, fmt.Errorf("copilot adapter returned no choices")
	}

	return Reply{Text: result.Choices[0].Message.Content}, nil
}

package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qwikcal/qwikcal/internal/pkg/env"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"

	extractionPrompt = "Extract event details from this image. Return a JSON object with " +
		"title, startTime (ISO format), endTime (ISO format, optional), " +
		"location (optional), and description (optional)."
)

// OpenAIClient extracts event fields from images via the OpenAI vision API.
type OpenAIClient struct {
	APIKey  string
	BaseURL string
	Model   string

	HTTPClient *http.Client
}

// NewOpenAIClientFromEnv builds a client from environment configuration.
func NewOpenAIClientFromEnv() *OpenAIClient {
	return &OpenAIClient{
		APIKey:  strings.TrimSpace(env.GetEnv("OPENAI_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("OPENAI_BASE_URL", defaultOpenAIBaseURL), "/"),
		Model:   strings.TrimSpace(env.GetEnv("OPENAI_MODEL", defaultOpenAIModel)),
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// extractedPayload mirrors the JSON shape the model is asked to return.
type extractedPayload struct {
	Title       string `json:"title"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

// Extract sends the image to the vision model and parses the structured
// event fields out of its reply.
func (c *OpenAIClient) Extract(ctx context.Context, image []byte) (*Fields, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not configured", ErrExtractionFailed)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}

	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: extractionPrompt},
					{Type: "image_url", ImageURL: &imageURL{
						URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
					}},
				},
			},
		},
		MaxTokens: 300,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrExtractionFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, msg)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: no content in response", ErrExtractionFailed)
	}

	return parseFields(parsed.Choices[0].Message.Content)
}

// parseFields decodes the model's JSON answer, tolerating markdown fences.
func parseFields(content string) (*Fields, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw extractedPayload
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: unparseable answer: %v", ErrExtractionFailed, err)
	}
	if raw.Title == "" || raw.StartTime == "" {
		return nil, fmt.Errorf("%w: missing title or start time", ErrExtractionFailed)
	}

	start, err := time.Parse(time.RFC3339, raw.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: bad start time %q: %v", ErrExtractionFailed, raw.StartTime, err)
	}

	fields := &Fields{
		Title:       raw.Title,
		StartTime:   start,
		Location:    raw.Location,
		Description: raw.Description,
	}
	if raw.EndTime != "" {
		end, err := time.Parse(time.RFC3339, raw.EndTime)
		if err != nil {
			return nil, fmt.Errorf("%w: bad end time %q: %v", ErrExtractionFailed, raw.EndTime, err)
		}
		fields.EndTime = &end
	}
	return fields, nil
}

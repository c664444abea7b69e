package eleven

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConversationClient fetches post-call artifacts for a completed
// conversation. Both fetches are best-effort; the reporter proceeds with
// whatever is available.
type ConversationClient interface {
	FetchTranscript(ctx context.Context, conversationID string) ([]TranscriptEntry, error)
	FetchSummary(ctx context.Context, conversationID string) (string, error)
}

// SignedURLIssuer obtains a pre-authorized websocket URL for one session.
type SignedURLIssuer interface {
	SignedURL(ctx context.Context) (string, error)
}

// TranscriptEntry is one turn of the stored conversation transcript.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// RESTClient is the thin HTTP client behind ConversationClient and
// SignedURLIssuer.
type RESTClient struct {
	APIKey     string
	AgentID    string
	BaseURL    string
	HTTPClient *http.Client
}

func (c *RESTClient) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "https://api.elevenlabs.io"
}

func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("fetch %s: decode: %w", path, err)
	}
	return nil
}

func (c *RESTClient) SignedURL(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.AgentID) == "" {
		return "", fmt.Errorf("agent id is required")
	}
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	path := "/v1/convai/conversation/get_signed_url?agent_id=" + c.AgentID
	if err := c.get(ctx, path, &out); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("signed url response was empty")
	}
	return out.SignedURL, nil
}

type conversationResponse struct {
	Transcript []TranscriptEntry `json:"transcript"`
	Analysis   struct {
		Summary string `json:"transcript_summary"`
	} `json:"analysis"`
}

func (c *RESTClient) FetchTranscript(ctx context.Context, conversationID string) ([]TranscriptEntry, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	var out conversationResponse
	if err := c.get(ctx, "/v1/convai/conversations/"+conversationID, &out); err != nil {
		return nil, err
	}
	return out.Transcript, nil
}

func (c *RESTClient) FetchSummary(ctx context.Context, conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", fmt.Errorf("conversation id is required")
	}
	var out conversationResponse
	if err := c.get(ctx, "/v1/convai/conversations/"+conversationID, &out); err != nil {
		return "", err
	}
	return out.Analysis.Summary, nil
}

package pushover

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediator/internal/domain"
)

const (
	DefaultURL = "https://api.pushover.net/1/messages.json"

	// Pushover rejects messages longer than this many characters.
	maxMessageRunes = 1024
)

// Client pushes finished reports to a phone.
type Client struct {
	token      string
	userKey    string
	title      string
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(token, userKey, title string, logger *slog.Logger) *Client {
	return NewClientWithURL(token, userKey, title, DefaultURL, logger)
}

func NewClientWithURL(token, userKey, title, url string, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		userKey:    userKey,
		title:      title,
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "pushover"),
	}
}

func (c *Client) Notify(ctx context.Context, report domain.AnalysisResult) error {
	if c.token == "" || c.userKey == "" {
		return nil
	}

	title := c.title
	if report.Fallback {
		title += " (离线建议)"
	}

	data := url.Values{}
	data.Set("token", c.token)
	data.Set("user", c.userKey)
	data.Set("title", title)
	data.Set("message", truncateRunes(report.Markdown, maxMessageRunes))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover error: %s", resp.Status)
	}

	c.logger.Info("report delivered", "fallback", report.Fallback)
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

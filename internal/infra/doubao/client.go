package doubao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mediator/internal/domain"
)

const (
	DefaultURL   = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
	DefaultModel = "doubao-seed-1-6-flash-250828"

	persona = "你是一个特别个性的调解员，根据用户的表达，帮用户缓解矛盾，你的主要特点是幽默风趣。" +
		"你的回答要包含三个方面，分析摘要，关键洞察，和谐建议，最后给出祝福。"

	firstPrefix  = "第一位用户的表达："
	secondPrefix = "第二位用户的表达："

	// Error bodies are logged, never returned; keep log lines bounded.
	maxLoggedBody = 512
)

// Client asks a chat completions model for a mediation report. Every failure
// short of cancellation is absorbed into the fallback report.
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(apiKey, model string, logger *slog.Logger) *Client {
	return NewClientWithURL(apiKey, model, DefaultURL, 60*time.Second, logger)
}

func NewClientWithURL(apiKey, model, url string, timeout time.Duration, logger *slog.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		url:        url,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "doubao"),
	}
}

// Configured reports whether Analyze will call the model at all.
func (c *Client) Configured() bool { return c.apiKey != "" }

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type request struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func buildRequest(model string, input domain.MediationInput) request {
	return request{
		Model: model,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: persona},
				{Type: "text", Text: firstPrefix + input.PartyA},
				{Type: "text", Text: secondPrefix + input.PartyB},
			},
		}},
	}
}

// Analyze makes a single attempt. It returns an error only when ctx is done.
func (c *Client) Analyze(ctx context.Context, input domain.MediationInput) (domain.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{}, err
	}

	if !c.Configured() {
		c.logger.Info("no api key configured, using fallback report")
		return domain.FallbackResult(domain.ReasonNoCredential), nil
	}

	bodyBytes, err := json.Marshal(buildRequest(c.model, input))
	if err != nil {
		c.logger.Error("marshaling request", "error", err)
		return domain.FallbackResult(domain.ReasonMalformed), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		c.logger.Error("creating request", "error", err, "url", c.url)
		return domain.FallbackResult(domain.ReasonTransport), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.AnalysisResult{}, ctxErr
		}
		c.logger.Error("sending request", "error", err)
		return domain.FallbackResult(domain.ReasonTransport), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.AnalysisResult{}, ctxErr
		}
		c.logger.Error("reading response", "error", err, "status", resp.StatusCode)
		return domain.FallbackResult(domain.ReasonTransport), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("analysis API error",
			"status", resp.StatusCode,
			"body", truncate(string(respBody), maxLoggedBody),
		)
		return domain.FallbackResult(domain.ReasonHTTPStatus), nil
	}

	var result response
	if err := json.Unmarshal(respBody, &result); err != nil {
		c.logger.Warn("decoding response", "error", err)
		return domain.FallbackResult(domain.ReasonMalformed), nil
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		c.logger.Warn("response has no content", "body", truncate(string(respBody), maxLoggedBody))
		return domain.FallbackResult(domain.ReasonMalformed), nil
	}

	c.logger.Info("analysis complete",
		"model", c.model,
		"duration", time.Since(start),
		"chars", len([]rune(result.Choices[0].Message.Content)),
	)
	return domain.AnalysisResult{Markdown: result.Choices[0].Message.Content}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("...(%d bytes)", len(s))
}

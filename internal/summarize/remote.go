package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/nhle/mailsum/internal/credential"
	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/model"
)

const (
	defaultRemoteEndpoint  = "https://api.anthropic.com/v1/messages"
	defaultRemoteModel     = "claude-3-5-haiku-latest"
	defaultRemoteMaxTokens = 256
	apiVersion             = "2023-06-01"

	// statusOverloaded is returned by the API when it is over capacity.
	statusOverloaded = 529
)

// RemoteOptions configures a Remote backend.
type RemoteOptions struct {
	Endpoint          string
	Model             string
	MaxTokens         int
	RequestsPerMinute int
	APIKey            credential.Secret
	Timeout           time.Duration
	Logger            *log.Logger
	HTTPClient        *http.Client
}

// Remote summarizes through the Claude Messages API.
type Remote struct {
	endpoint  string
	model     string
	maxTokens int
	apiKey    credential.Secret
	client    *http.Client
	limiter   *rate.Limiter
	sanitizer *bluemonday.Policy
	logger    *log.Logger
}

// NewRemote creates a Remote backend.
func NewRemote(opts RemoteOptions) *Remote {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultRemoteEndpoint
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = defaultRemoteModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultRemoteMaxTokens
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1,
		)
	}

	return &Remote{
		endpoint:  endpoint,
		model:     modelName,
		maxTokens: maxTokens,
		apiKey:    opts.APIKey,
		client:    client,
		limiter:   limiter,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

func (r *Remote) Kind() model.BackendKind {
	return model.BackendRemote
}

// Summarize sends one request to the Messages API.
func (r *Remote) Summarize(
	ctx context.Context, text string, maxLen int,
) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &Error{
			Backend: model.BackendRemote,
			Class:   Transient,
			Err:     fmt.Errorf("waiting for rate limiter: %w", err),
		}
	}

	resp, err := r.callAPI(ctx, apiRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    instruction(maxLen),
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: text}},
		}},
	})
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}

	summary := ClampSummary(r.clean(strings.Join(parts, "")), maxLen)
	if summary == "" && strings.TrimSpace(text) != "" {
		return "", &Error{
			Backend: model.BackendRemote,
			Class:   Transient,
			Err:     ErrEmptySummary,
		}
	}

	r.logger.Debug("remote summary received",
		"model", resp.Model, "stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return summary, nil
}

// markupTag matches common HTML tags. Angle-bracketed addresses such as
// <alice@example.com> do not match.
var markupTag = regexp.MustCompile(
	`(?i)</?(?:a|b|i|u|em|strong|p|br|hr|div|span|ul|ol|li|h[1-6]|code|pre|` +
		`table|tr|td|th|img|html|head|body|script|style)(?:\s[^>]*)?/?>`)

// terminalEscape matches CSI and OSC escape sequences.
var terminalEscape = regexp.MustCompile(
	`\x1b(?:\[[0-?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)?)`)

// clean makes model output safe to print to a terminal or append to a
// file. HTML is stripped only when the reply contains real tags.
func (r *Remote) clean(s string) string {
	if markupTag.MatchString(s) {
		s = html.UnescapeString(r.sanitizer.Sanitize(s))
	}
	s = terminalEscape.ReplaceAllString(s, "")
	return strings.Map(func(c rune) rune {
		if c == '\n' || c == '\t' {
			return c
		}
		if unicode.IsControl(c) {
			return -1
		}
		return c
	}, s)
}

// Close releases nothing; the HTTP client needs no teardown.
func (r *Remote) Close() error {
	return nil
}

// callAPI makes a single request to the Claude Messages API.
func (r *Remote) callAPI(
	ctx context.Context, reqBody apiRequest,
) (*apiResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, r.endpoint, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, &Error{
			Backend: model.BackendRemote,
			Class:   Permanent,
			Config:  true,
			Err:     fmt.Errorf("creating request: %w", err),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", r.apiKey.Reveal())
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &Error{
			Backend: model.BackendRemote,
			Class:   Transient,
			Err:     fmt.Errorf("calling Claude API: %w", err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Backend: model.BackendRemote,
			Class:   Transient,
			Err:     fmt.Errorf("reading response: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyRemoteStatus(resp.StatusCode, respBody)
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{
			Backend: model.BackendRemote,
			Class:   Transient,
			Err:     fmt.Errorf("decoding response: %w", err),
		}
	}

	return &result, nil
}

func classifyRemoteStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr apiErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	e := &Error{
		Backend:    model.BackendRemote,
		StatusCode: status,
		Err:        fmt.Errorf("API error (%d): %s", status, msg),
	}

	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusPaymentRequired:
		e.Class = Permanent
		e.Config = true
	case status == http.StatusTooManyRequests:
		if quotaExhausted(msg) {
			e.Class = Permanent
			e.Config = true
		} else {
			e.Class = Transient
		}
	case status == http.StatusRequestTimeout,
		status == statusOverloaded,
		status >= 500:
		e.Class = Transient
	case status == http.StatusBadRequest && quotaExhausted(msg):
		e.Class = Permanent
		e.Config = true
	default:
		e.Class = Permanent
	}

	return e
}

// quotaExhausted reports whether an API error message says the account
// cannot make further requests, as opposed to a short-term rate limit.
func quotaExhausted(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"quota", "credit balance", "billing", "insufficient"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

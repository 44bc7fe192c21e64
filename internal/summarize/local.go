package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/model"
)

const (
	defaultLocalEndpoint  = "http://localhost:11434"
	defaultLocalModel     = "llama3.2"
	defaultLocalKeepAlive = 10 * time.Minute
	defaultTimeout        = 60 * time.Second

	// localSeed fixes sampling so identical input gives identical output.
	localSeed = 42
)

// LocalOptions configures a Local backend.
type LocalOptions struct {
	Endpoint       string
	Model          string
	MaxInputTokens int
	KeepAlive      time.Duration
	Timeout        time.Duration
	Logger         *log.Logger
	HTTPClient     *http.Client
}

// Local summarizes with a model served by an Ollama-compatible
// inference server on this machine. The model is loaded on the first
// call and stays resident until Close.
type Local struct {
	endpoint       string
	model          string
	maxInputTokens int
	keepAlive      time.Duration
	client         *http.Client
	logger         *log.Logger

	mu     sync.Mutex
	loaded bool
	closed bool
}

// NewLocal creates a Local backend. No network traffic happens until
// the first Summarize call.
func NewLocal(opts LocalOptions) *Local {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultLocalEndpoint
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = defaultLocalModel
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultLocalKeepAlive
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

	return &Local{
		endpoint:       endpoint,
		model:          modelName,
		maxInputTokens: opts.MaxInputTokens,
		keepAlive:      keepAlive,
		client:         client,
		logger:         logger,
	}
}

func (l *Local) Kind() model.BackendKind {
	return model.BackendLocal
}

// Summarize loads the model if needed and asks it for a summary.
func (l *Local) Summarize(
	ctx context.Context, text string, maxLen int,
) (string, error) {
	if err := l.ensureLoaded(ctx); err != nil {
		return "", err
	}

	input := truncateTokens(text, l.maxInputTokens)
	// Roughly three characters per token, plus headroom.
	numPredict := maxLen/3 + 16

	resp, err := l.generate(ctx, generateRequest{
		Model:     l.model,
		Prompt:    instruction(maxLen) + "\n\n" + input,
		Stream:    false,
		KeepAlive: l.keepAlive.String(),
		Options: &generateOptions{
			Temperature: 0,
			Seed:        localSeed,
			NumPredict:  numPredict,
		},
	})
	if err != nil {
		return "", err
	}

	summary := ClampSummary(resp.Response, maxLen)
	if summary == "" && strings.TrimSpace(text) != "" {
		return "", &Error{
			Backend: model.BackendLocal,
			Class:   Transient,
			Err:     ErrEmptySummary,
		}
	}

	return summary, nil
}

// ensureLoaded pins the model in server memory. A failed load is
// retried on the next call.
func (l *Local) ensureLoaded(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return &Error{
			Backend: model.BackendLocal,
			Class:   Permanent,
			Err:     errors.New("backend is closed"),
		}
	}
	if l.loaded {
		return nil
	}

	start := time.Now()
	l.logger.Info("loading local model", "model", l.model, "endpoint", l.endpoint)

	if _, err := l.generate(ctx, generateRequest{
		Model:     l.model,
		KeepAlive: l.keepAlive.String(),
	}); err != nil {
		return err
	}

	l.loaded = true
	l.logger.Info("local model ready",
		"model", l.model, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Close unloads the model if it was loaded. Calling Close more than
// once is a no-op.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if !l.loaded {
		return nil
	}
	l.loaded = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := l.generate(ctx, generateRequest{
		Model:     l.model,
		KeepAlive: "0",
	}); err != nil {
		return fmt.Errorf("unloading model %s: %w", l.model, err)
	}

	l.logger.Debug("local model unloaded", "model", l.model)
	return nil
}

func (l *Local) generate(
	ctx context.Context, reqBody generateRequest,
) (*generateResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, l.endpoint+"/api/generate", bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, &Error{
			Backend: model.BackendLocal,
			Class:   Permanent,
			Config:  true,
			Err:     fmt.Errorf("creating request: %w", err),
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, classifyLocalTransportError(err, l.endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Backend: model.BackendLocal,
			Class:   Transient,
			Err:     fmt.Errorf("reading response: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyLocalStatus(resp.StatusCode, respBody, l.model)
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{
			Backend: model.BackendLocal,
			Class:   Transient,
			Err:     fmt.Errorf("decoding response: %w", err),
		}
	}
	if result.Error != "" {
		return nil, &Error{
			Backend: model.BackendLocal,
			Class:   Permanent,
			Err:     errors.New(result.Error),
		}
	}

	return &result, nil
}

func classifyLocalTransportError(err error, endpoint string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{
			Backend: model.BackendLocal,
			Class:   Permanent,
			Config:  true,
			Err:     fmt.Errorf("no inference server at %s: %w", endpoint, err),
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return &Error{
			Backend: model.BackendLocal,
			Class:   Permanent,
			Config:  true,
			Err:     fmt.Errorf("resolving %s: %w", endpoint, err),
		}
	}

	return &Error{
		Backend: model.BackendLocal,
		Class:   Transient,
		Err:     fmt.Errorf("calling inference server: %w", err),
	}
}

func classifyLocalStatus(status int, body []byte, modelName string) error {
	msg := strings.TrimSpace(string(body))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	e := &Error{
		Backend:    model.BackendLocal,
		StatusCode: status,
		Err:        errors.New(msg),
	}

	switch {
	case status == http.StatusNotFound:
		e.Class = Permanent
		e.Config = true
		e.Err = fmt.Errorf("model %s is not available: %s", modelName, msg)
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		e.Class = Transient
	default:
		e.Class = Permanent
	}

	return e
}

// truncateTokens keeps the first maxTokens whitespace-separated words.
// It approximates the model tokenizer's input limit.
func truncateTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

// --- inference server API types ---

type generateRequest struct {
	Model     string           `json:"model"`
	Prompt    string           `json:"prompt,omitempty"`
	Stream    bool             `json:"stream"`
	KeepAlive string           `json:"keep_alive,omitempty"`
	Options   *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureaulab/bureau/internal/credential"
	"github.com/bureaulab/bureau/internal/proc"
	"github.com/bureaulab/bureau/internal/stream"
	"github.com/bureaulab/bureau/pkg/models"
)

// errAborted marks a stream ended by caller cancellation, which is a normal
// termination path rather than an account failure.
var errAborted = errors.New("stream aborted")

// defaultEndpoints are the hosted provider streaming endpoints. The gemini
// entry is a format string receiving the model name.
var defaultEndpoints = map[models.Provider]string{
	models.ProviderAnthropic: "https://api.anthropic.com/v1/messages",
	models.ProviderOpenAI:    "https://api.openai.com/v1/chat/completions",
	models.ProviderGemini:    "https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?alt=sse",
}

// defaultModels are the per-provider fallbacks when neither the agent nor
// the account names a model. The generic api provider has no fallback on
// purpose.
var defaultModels = map[models.Provider]string{
	models.ProviderAnthropic: "claude-sonnet-4-20250514",
	models.ProviderOpenAI:    "gpt-4o",
	models.ProviderGemini:    "gemini-2.0-flash",
}

// HTTPRunner executes tasks by streaming from hosted provider APIs using
// OAuth accounts from the credential pool.
type HTTPRunner struct {
	pool     *credential.Pool
	registry *proc.Registry
	client   *http.Client
	logger   *slog.Logger

	endpoints  map[models.Provider]string
	apiBaseURL string
}

// Verify HTTPRunner implements Runner at compile time.
var _ Runner = (*HTTPRunner)(nil)

// NewHTTPRunner creates an HTTP runner. apiBaseURL configures the generic
// "api" provider endpoint; it may be empty when that provider is unused.
func NewHTTPRunner(pool *credential.Pool, registry *proc.Registry, apiBaseURL string, logger *slog.Logger) *HTTPRunner {
	return &HTTPRunner{
		pool:       pool,
		registry:   registry,
		client:     &http.Client{Timeout: 0}, // streaming; bounded by ctx
		logger:     logger,
		endpoints:  defaultEndpoints,
		apiBaseURL: apiBaseURL,
	}
}

// SetHTTPClient replaces the HTTP client (for tests).
func (r *HTTPRunner) SetHTTPClient(c *http.Client) { r.client = c }

// SetEndpoint overrides one provider endpoint (for tests).
func (r *HTTPRunner) SetEndpoint(provider models.Provider, url string) {
	ep := make(map[models.Provider]string, len(r.endpoints))
	for k, v := range r.endpoints {
		ep[k] = v
	}
	ep[provider] = url
	r.endpoints = ep
}

// Execute claims the task's stream slot, walks the account candidates, and
// streams the reply. With auto-swap enabled a failed account advances to the
// next candidate with the same prompt; without it only the first candidate
// is attempted.
func (r *HTTPRunner) Execute(ctx context.Context, req Request, hooks Hooks) (Completion, error) {
	taskID := req.Task.ID
	provider := req.Agent.Provider

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.registry.Register(&proc.Handle{
		TaskID:  taskID,
		AgentID: req.Agent.ID,
		Cancel:  cancel,
	}); err != nil {
		return Completion{}, err
	}
	defer r.registry.Remove(taskID)

	candidates, err := r.pool.Candidates(provider, req.PinnedAccountID)
	if err == credential.ErrNoAccounts {
		return Completion{TaskID: taskID, Reason: "no usable accounts for provider"}, nil
	}
	if err != nil {
		return Completion{}, err
	}
	if !req.AutoSwap {
		candidates = candidates[:1]
	}

	var lastErr error
	for _, acct := range candidates {
		model := resolveModel(req.Agent, acct, provider)
		if model == "" {
			return Completion{}, fmt.Errorf("provider %q requires an explicit model", provider)
		}

		token, err := r.pool.AccessToken(ctx, acct)
		if err != nil {
			r.pool.RecordFailure(acct, err)
			lastErr = err
			r.logger.Warn("access token unavailable", "account_id", acct.ID, "error", err)
			continue
		}

		text, err := r.streamOnce(ctx, provider, model, token, req.Prompt, hooks)
		if err == errAborted {
			return Completion{TaskID: taskID, Reason: "aborted", Output: text}, nil
		}
		if err != nil {
			r.pool.RecordFailure(acct, err)
			lastErr = err
			r.logger.Warn("stream attempt failed",
				"task_id", taskID, "account_id", acct.ID, "error", err)
			continue
		}

		r.pool.RecordSuccess(acct)
		return Completion{TaskID: taskID, Success: true, Output: text}, nil
	}

	return Completion{
		TaskID: taskID,
		Reason: fmt.Sprintf("all accounts failed: %v", lastErr),
	}, nil
}

// resolveModel picks the model for one attempt: account override, then agent
// model, then the provider default.
func resolveModel(agent *models.Agent, acct *models.OAuthAccount, provider models.Provider) string {
	if acct.Model != "" {
		return acct.Model
	}
	if agent.Model != "" {
		return agent.Model
	}
	return defaultModels[provider]
}

// streamOnce performs one HTTP streaming attempt against one account.
func (r *HTTPRunner) streamOnce(ctx context.Context, provider models.Provider, model, token, prompt string, hooks Hooks) (string, error) {
	url, body, err := r.buildRequest(provider, model, prompt)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if provider == models.ProviderAnthropic {
		httpReq.Header.Set("anthropic-version", "2023-06-01")
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errAborted
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	decoder := stream.NewDecoderFor(string(provider))
	planScan := stream.NewPlanScanner()
	var tail tailBuffer

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, delta := range decoder.Feed(buf[:n]) {
				hooks.emitOutput("stdout", delta)
				tail.WriteString(delta)
				for _, ev := range planScan.Feed(delta) {
					hooks.emitEvent(ev)
				}
			}
			if decoder.Done() {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return tail.String(), errAborted
			}
			return "", fmt.Errorf("read stream: %w", readErr)
		}
	}

	return tail.String(), nil
}

// buildRequest assembles the provider-specific endpoint and JSON body.
func (r *HTTPRunner) buildRequest(provider models.Provider, model, prompt string) (string, []byte, error) {
	switch provider {
	case models.ProviderAnthropic:
		body, err := json.Marshal(map[string]any{
			"model":      model,
			"max_tokens": 8192,
			"stream":     true,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		})
		return r.endpoints[provider], body, err

	case models.ProviderOpenAI, models.ProviderAPI:
		body, err := json.Marshal(map[string]any{
			"model":  model,
			"stream": true,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		})
		url := r.endpoints[provider]
		if provider == models.ProviderAPI {
			if r.apiBaseURL == "" {
				return "", nil, fmt.Errorf("api provider requires a configured base URL")
			}
			url = strings.TrimSuffix(r.apiBaseURL, "/") + "/chat/completions"
		}
		return url, body, err

	case models.ProviderGemini:
		body, err := json.Marshal(map[string]any{
			"contents": []map[string]any{
				{"parts": []map[string]string{{"text": prompt}}},
			},
		})
		return fmt.Sprintf(r.endpoints[provider], model), body, err

	default:
		return "", nil, fmt.Errorf("provider %q is not an HTTP family", provider)
	}
}

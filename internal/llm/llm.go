package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MoveRequest is everything the move-generation service needs to pick
// the next link for one run.
type MoveRequest struct {
	StartArticle       string   `json:"start_article"`
	DestinationArticle string   `json:"destination_article"`
	CurrentArticle     string   `json:"current_article"`
	Candidates         []string `json:"candidate_links"`
	Model              string   `json:"model"`
	BaseURL            string   `json:"-"`
	Thinking           string   `json:"thinking,omitempty"`
	MaxTokens          int      `json:"max_tokens,omitempty"`
}

// MoveResult is the chosen link plus generation metrics recorded into
// step metadata.
type MoveResult struct {
	ChosenLink   string
	LatencyMS    int64
	PromptTokens int
	OutputTokens int
	Retries      int
	RawOutput    string
}

type MoveGenerator interface {
	GenerateMove(ctx context.Context, req MoveRequest) (MoveResult, error)
}

// HTTPClient calls the move-generation service with a bounded retry
// loop. Provider specifics live behind the service; this client only
// carries budgets and options through.
type HTTPClient struct {
	base       string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	log        *zap.Logger
}

func NewHTTPClient(base string, timeout time.Duration, maxRetries int, retryDelay time.Duration, log *zap.Logger) *HTTPClient {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &HTTPClient{
		base:       strings.TrimRight(base, "/"),
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log,
	}
}

func (c *HTTPClient) GenerateMove(ctx context.Context, req MoveRequest) (MoveResult, error) {
	base := c.base
	if req.BaseURL != "" {
		base = strings.TrimRight(req.BaseURL, "/")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return MoveResult{}, err
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Info("retrying move generation",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt+1))
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return MoveResult{}, ctx.Err()
			}
		}

		res, err := c.once(ctx, base, body)
		if err != nil {
			if ctx.Err() != nil {
				return MoveResult{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		res.Retries = attempt
		res.LatencyMS = time.Since(start).Milliseconds()
		return res, nil
	}
	return MoveResult{}, lastErr
}

func (c *HTTPClient) once(ctx context.Context, base string, body []byte) (MoveResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/move", bytes.NewReader(body))
	if err != nil {
		return MoveResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return MoveResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return MoveResult{}, fmt.Errorf("move generation: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var data struct {
		ChosenLink   string `json:"chosen_link"`
		PromptTokens int    `json:"prompt_tokens"`
		OutputTokens int    `json:"output_tokens"`
		RawOutput    string `json:"raw_output"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return MoveResult{}, fmt.Errorf("move generation: invalid response: %w", err)
	}
	if data.Error != "" {
		return MoveResult{}, fmt.Errorf("move generation: %s", data.Error)
	}
	if data.ChosenLink == "" {
		return MoveResult{}, fmt.Errorf("move generation: empty chosen link")
	}

	return MoveResult{
		ChosenLink:   data.ChosenLink,
		PromptTokens: data.PromptTokens,
		OutputTokens: data.OutputTokens,
		RawOutput:    data.RawOutput,
	}, nil
}

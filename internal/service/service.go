// Package service talks to generative model backends. A Service makes exactly
// one attempt per call; retrying is the caller's decision and scribe never
// retries within a run.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidResponse = errors.New("invalid response")
	ErrUnavailable     = errors.New("service unavailable")
	ErrTimeout         = errors.New("service timeout")
	// ErrRejected covers 4xx answers other than rate limiting: bad request,
	// auth, blocked content.
	ErrRejected = errors.New("request rejected")
)

type Image struct {
	Data      []byte
	MediaType string
}

// Request is everything sent for one record.
type Request struct {
	System      string
	Instruction string
	Images      []Image
}

// Segment is a piece of model output. Thought segments carry reasoning the
// backend marked as such.
type Segment struct {
	Text    string
	Thought bool
}

type Response struct {
	Segments []Segment
}

// Answer concatenates the visible segments.
func (r Response) Answer() string {
	var b strings.Builder
	for _, s := range r.Segments {
		if !s.Thought {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Thought joins the thought segments with newlines.
func (r Response) Thought() string {
	var parts []string
	for _, s := range r.Segments {
		if s.Thought && s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type Service interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderEcho   = "echo"
)

// Thinking levels accepted by Config.Thinking. Empty leaves the backend
// default.
const (
	ThinkingOff    = "off"
	ThinkingOn     = "on"
	ThinkingLow    = "low"
	ThinkingMedium = "medium"
	ThinkingHigh   = "high"
)

type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Thinking    string
	Temperature *float64
	MaxTokens   int
	// Timeout bounds the HTTP client. Per-call deadlines come from the context.
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

// New builds the backend named by cfg.Provider.
func New(cfg Config) (Service, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderGemini:
		return NewGemini(cfg)
	case ProviderOllama:
		return NewOllama(cfg)
	case ProviderEcho:
		return Echo{}, nil
	}
	return nil, fmt.Errorf("unknown service provider %q", cfg.Provider)
}

// classifyTransport maps errors raised before any response arrived.
func classifyTransport(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %v", ErrTimeout, name, ctx.Err())
		}
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, name, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
}

// classifyStatus maps a non-2xx HTTP status.
func classifyStatus(name string, status int, msg string) error {
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	var kind error
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = ErrTimeout
	case status >= 500:
		kind = ErrUnavailable
	default:
		kind = ErrRejected
	}
	if msg == "" {
		return fmt.Errorf("%w: %s %d", kind, name, status)
	}
	return fmt.Errorf("%w: %s %d: %s", kind, name, status, msg)
}

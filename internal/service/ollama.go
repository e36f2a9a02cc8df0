package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama calls a local or remote Ollama server through its generate endpoint.
type Ollama struct {
	client      *api.Client
	model       string
	thinking    string
	temperature *float64
	maxTokens   int
}

// NewOllama uses cfg.BaseURL, which may be a bare host:port as OLLAMA_HOST
// usually is. Without one it uses the client's default of localhost:11434.
func NewOllama(cfg Config) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama: model is required")
	}
	var client *api.Client
	if cfg.BaseURL != "" {
		u, err := ollamaURL(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("ollama: base url: %w", err)
		}
		client = api.NewClient(u, cfg.httpClient())
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		client = c
	}
	return &Ollama{
		client:      client,
		model:       cfg.Model,
		thinking:    cfg.Thinking,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// ollamaURL accepts "host", "host:port" or a full URL. A bare host gets the
// http scheme and, without a port, 11434.
func ollamaURL(raw string) (*url.URL, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	bare := !strings.Contains(raw, "://")
	if bare {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("no host in %q", raw)
	}
	if bare && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "11434")
	}
	return u, nil
}

func (o *Ollama) Name() string { return ProviderOllama + ":" + o.model }

func (o *Ollama) request(req Request) *api.GenerateRequest {
	stream := false
	gr := &api.GenerateRequest{
		Model:  o.model,
		Prompt: req.Instruction,
		System: req.System,
		Stream: &stream,
	}
	for _, img := range req.Images {
		gr.Images = append(gr.Images, api.ImageData(img.Data))
	}
	switch o.thinking {
	case ThinkingOn:
		gr.Think = &api.ThinkValue{Value: true}
	case ThinkingOff:
		gr.Think = &api.ThinkValue{Value: false}
	case ThinkingLow, ThinkingMedium, ThinkingHigh:
		gr.Think = &api.ThinkValue{Value: o.thinking}
	}
	opts := map[string]any{}
	if o.temperature != nil {
		opts["temperature"] = *o.temperature
	}
	if o.maxTokens > 0 {
		opts["num_predict"] = o.maxTokens
	}
	if len(opts) > 0 {
		gr.Options = opts
	}
	return gr
}

func (o *Ollama) Generate(ctx context.Context, req Request) (Response, error) {
	var answer, thinking strings.Builder
	err := o.client.Generate(ctx, o.request(req), func(r api.GenerateResponse) error {
		answer.WriteString(r.Response)
		thinking.WriteString(r.Thinking)
		return nil
	})
	if err != nil {
		var se api.StatusError
		if errors.As(err, &se) {
			return Response{}, classifyStatus("ollama", se.StatusCode, se.ErrorMessage)
		}
		return Response{}, classifyTransport(ctx, "ollama", err)
	}
	var segs []Segment
	if t := strings.TrimSpace(thinking.String()); t != "" {
		segs = append(segs, Segment{Text: t, Thought: true})
	}
	segs = append(segs, SplitThink(answer.String())...)
	return Response{Segments: segs}, nil
}

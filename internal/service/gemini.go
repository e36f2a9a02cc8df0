package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-3-flash-preview"
)

// Gemini calls the Generative Language REST API (models/{model}:generateContent).
type Gemini struct {
	hc          *http.Client
	url         string
	model       string
	apiKey      string
	thinking    string
	temperature *float64
	maxTokens   int
}

func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: missing api key (GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGeminiBaseURL
	}
	return &Gemini{
		hc:          cfg.httpClient(),
		url:         base + "/v1beta/models/" + url.PathEscape(model) + ":generateContent",
		model:       model,
		apiKey:      cfg.APIKey,
		thinking:    cfg.Thinking,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (g *Gemini) Name() string { return ProviderGemini + ":" + g.model }

type gmInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type gmPart struct {
	Text       string        `json:"text,omitempty"`
	Thought    bool          `json:"thought,omitempty"`
	InlineData *gmInlineData `json:"inlineData,omitempty"`
}

type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}

type gmThinkingConfig struct {
	IncludeThoughts bool   `json:"includeThoughts,omitempty"`
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
	ThinkingBudget  *int   `json:"thinkingBudget,omitempty"`
}

type gmGenerationConfig struct {
	Temperature     *float64          `json:"temperature,omitempty"`
	MaxOutputTokens int               `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *gmThinkingConfig `json:"thinkingConfig,omitempty"`
}

type gmReq struct {
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Contents          []gmContent         `json:"contents"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}

type gmResp struct {
	Candidates []struct {
		Content      gmContent `json:"content"`
		FinishReason string    `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type gmErrResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) encode(req Request) ([]byte, error) {
	var r gmReq
	if req.System != "" {
		r.SystemInstruction = &gmContent{Parts: []gmPart{{Text: req.System}}}
	}
	parts := make([]gmPart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, gmPart{InlineData: &gmInlineData{
			MimeType: img.MediaType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	parts = append(parts, gmPart{Text: req.Instruction})
	r.Contents = []gmContent{{Role: "user", Parts: parts}}

	gc := &gmGenerationConfig{Temperature: g.temperature, MaxOutputTokens: g.maxTokens}
	switch g.thinking {
	case ThinkingOn:
		gc.ThinkingConfig = &gmThinkingConfig{IncludeThoughts: true}
	case ThinkingLow, ThinkingMedium, ThinkingHigh:
		gc.ThinkingConfig = &gmThinkingConfig{IncludeThoughts: true, ThinkingLevel: g.thinking}
	case ThinkingOff:
		zero := 0
		gc.ThinkingConfig = &gmThinkingConfig{ThinkingBudget: &zero}
	}
	if gc.Temperature != nil || gc.MaxOutputTokens > 0 || gc.ThinkingConfig != nil {
		r.GenerationConfig = gc
	}
	return json.Marshal(&r)
}

func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := g.encode(req)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: encode: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("gemini: new request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.hc.Do(hreq)
	if err != nil {
		return Response{}, classifyTransport(ctx, "gemini", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		var er gmErrResp
		if json.Unmarshal(slurp, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		return Response{}, classifyStatus("gemini", resp.StatusCode, msg)
	}
	var gr gmResp
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		if ctx.Err() != nil {
			return Response{}, classifyTransport(ctx, "gemini", err)
		}
		return Response{}, fmt.Errorf("%w: gemini: decode: %v", ErrInvalidResponse, err)
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return Response{}, fmt.Errorf("%w: gemini blocked prompt: %s", ErrRejected, gr.PromptFeedback.BlockReason)
	}
	if len(gr.Candidates) == 0 {
		return Response{}, fmt.Errorf("%w: gemini: no candidates", ErrInvalidResponse)
	}
	c := gr.Candidates[0]
	segs := make([]Segment, 0, len(c.Content.Parts))
	for _, p := range c.Content.Parts {
		if p.Text == "" {
			continue
		}
		segs = append(segs, Segment{Text: p.Text, Thought: p.Thought})
	}
	if len(segs) == 0 && c.FinishReason != "" && c.FinishReason != "STOP" {
		return Response{}, fmt.Errorf("%w: gemini finished with %s and no text", ErrInvalidResponse, c.FinishReason)
	}
	return Response{Segments: segs}, nil
}

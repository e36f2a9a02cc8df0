package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint. Self-hosted
// servers (vLLM and the like) are reached through Config.BaseURL.
type OpenAI struct {
	client      openai.Client
	model       string
	thinking    string
	temperature *float64
	maxTokens   int
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(cfg.httpClient()),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// Local servers usually ignore the key but the SDK insists on one.
		opts = append(opts, option.WithAPIKey("none"))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		thinking:    cfg.Thinking,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (o *OpenAI) Name() string { return ProviderOpenAI + ":" + o.model }

func (o *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	if len(req.Images) == 0 {
		msgs = append(msgs, openai.UserMessage(req.Instruction))
	} else {
		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
		for _, img := range req.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			}))
		}
		parts = append(parts, openai.TextContentPart(req.Instruction))
		msgs = append(msgs, openai.UserMessage(parts))
	}
	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
	if o.maxTokens > 0 {
		p.MaxTokens = openai.Int(int64(o.maxTokens))
	}
	if o.temperature != nil {
		p.Temperature = openai.Float(*o.temperature)
	}
	switch o.thinking {
	case ThinkingLow, ThinkingMedium, ThinkingHigh:
		p.ReasoningEffort = shared.ReasoningEffort(o.thinking)
	}
	return p
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, classifyStatus("openai", apiErr.StatusCode, apiErr.Message)
		}
		return Response{}, classifyTransport(ctx, "openai", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: openai: no choices", ErrInvalidResponse)
	}
	msg := resp.Choices[0].Message
	var segs []Segment
	// vLLM reasoning parsers move thoughts out of content.
	if rc := gjson.Get(msg.RawJSON(), "reasoning_content"); rc.Type == gjson.String && rc.Str != "" {
		segs = append(segs, Segment{Text: rc.Str, Thought: true})
	}
	segs = append(segs, SplitThink(msg.Content)...)
	if len(segs) == 0 && msg.Refusal != "" {
		return Response{}, fmt.Errorf("%w: openai refusal: %s", ErrRejected, msg.Refusal)
	}
	return Response{Segments: segs}, nil
}

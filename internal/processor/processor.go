// Package processor turns one record into one output record. Process never
// fails: every recoverable problem ends up in the record's error field.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flarebyte/scribe/internal/prompt"
	"github.com/flarebyte/scribe/internal/record"
	"github.com/flarebyte/scribe/internal/service"
)

type Status int

const (
	// PassThrough: the record had nothing to work on and is written unchanged.
	PassThrough Status = iota
	Augmented
	Failed
	// Interrupted: the caller went away mid-call. The outcome must not be
	// written.
	Interrupted
)

func (s Status) String() string {
	switch s {
	case PassThrough:
		return "pass-through"
	case Augmented:
		return "augmented"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the result of processing one record. Err explains Failed and
// Interrupted outcomes; for Failed it is already recorded in Record.
type Outcome struct {
	Record record.Record
	Status Status
	Err    error
	// Malformed marks the placeholder written for an unreadable input item.
	Malformed bool
}

// Writable reports whether the outcome belongs in the output.
func (o Outcome) Writable() bool { return o.Status != Interrupted }

type Options struct {
	InputField   string
	ResultField  string
	ThoughtField string
	ErrorField   string
	ImageField   string
	ImageRoot    string
	Drop         []string
	TrimResult   bool
	// Timeout bounds each service call. Zero means no bound.
	Timeout time.Duration
	Log     logr.Logger
}

// Processor binds a prompt renderer to a service.
type Processor struct {
	opts     Options
	renderer *prompt.Renderer
	svc      service.Service
	tracer   trace.Tracer
}

func New(opts Options, r *prompt.Renderer, svc service.Service) (*Processor, error) {
	if opts.InputField == "" {
		return nil, errors.New("processor: input field is required")
	}
	if opts.ResultField == "" {
		opts.ResultField = "result"
	}
	if opts.ErrorField == "" {
		opts.ErrorField = "error"
	}
	for _, p := range []string{opts.InputField, opts.ResultField, opts.ErrorField} {
		if !record.ValidPath(p) {
			return nil, fmt.Errorf("processor: invalid field path %q", p)
		}
	}
	if opts.ThoughtField != "" && !record.ValidPath(opts.ThoughtField) {
		return nil, fmt.Errorf("processor: invalid field path %q", opts.ThoughtField)
	}
	if r == nil || svc == nil {
		return nil, errors.New("processor: renderer and service are required")
	}
	return &Processor{
		opts:     opts,
		renderer: r,
		svc:      svc,
		tracer:   otel.Tracer("github.com/flarebyte/scribe/internal/processor"),
	}, nil
}

func (p *Processor) ErrorField() string { return p.opts.ErrorField }

// Process handles rec, the index-th record of the input.
func (p *Processor) Process(ctx context.Context, index int, rec record.Record, locator string) Outcome {
	ctx, span := p.tracer.Start(ctx, "scribe.record", trace.WithAttributes(
		attribute.Int("scribe.index", index),
		attribute.String("scribe.locator", locator),
	))
	defer span.End()

	out := p.process(ctx, index, rec, locator)
	span.SetAttributes(attribute.String("scribe.status", out.Status.String()))
	if out.Status == Failed {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func (p *Processor) process(ctx context.Context, index int, rec record.Record, locator string) Outcome {
	log := p.opts.Log.WithValues("index", index, "locator", locator)

	if rec.Empty(p.opts.InputField) {
		log.V(1).Info("pass-through: empty input field", "field", p.opts.InputField)
		return Outcome{Record: rec, Status: PassThrough}
	}
	keep, err := p.renderer.Admit(ctx, rec, locator)
	if err != nil {
		return p.fail(ctx, log, rec, fmt.Errorf("filter: %w", err))
	}
	if !keep {
		log.V(1).Info("pass-through: filtered")
		return Outcome{Record: rec, Status: PassThrough}
	}

	req, err := p.request(ctx, rec, locator)
	if err != nil {
		return p.fail(ctx, log, rec, err)
	}
	log.V(2).Info("request", "instruction", req.Instruction, "images", len(req.Images))

	resp, err := p.generate(ctx, req)
	if err != nil {
		return p.fail(ctx, log, rec, err)
	}

	answer, thought := resp.Answer(), resp.Thought()
	if p.opts.TrimResult {
		answer = strings.TrimSpace(answer)
	}
	out, err := rec.Without(p.opts.Drop...)
	if err == nil {
		out, err = out.With(p.opts.ResultField, answer)
	}
	if err == nil && p.opts.ThoughtField != "" && thought != "" {
		out, err = out.With(p.opts.ThoughtField, thought)
	}
	if err != nil {
		return p.fail(ctx, log, rec, fmt.Errorf("attach result: %w", err))
	}
	log.V(1).Info("augmented", "chars", len(answer))
	return Outcome{Record: out, Status: Augmented}
}

func (p *Processor) request(ctx context.Context, rec record.Record, locator string) (service.Request, error) {
	pr, err := p.renderer.Render(ctx, rec, locator)
	if err != nil {
		return service.Request{}, fmt.Errorf("prompt: %w", err)
	}
	req := service.Request{System: pr.System, Instruction: pr.Instruction}
	if p.opts.ImageField != "" {
		imgs, err := LoadImages(rec.Get(p.opts.ImageField), p.opts.ImageRoot)
		if err != nil {
			return service.Request{}, fmt.Errorf("image: %w", err)
		}
		req.Images = imgs
	}
	return req, nil
}

func (p *Processor) generate(ctx context.Context, req service.Request) (service.Response, error) {
	ctx, span := p.tracer.Start(ctx, "scribe.service.generate", trace.WithAttributes(
		attribute.String("scribe.provider", p.svc.Name()),
	))
	defer span.End()
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	resp, err := p.svc.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, service.ErrTimeout) {
			err = fmt.Errorf("%w: %v", service.ErrTimeout, err)
		}
	}
	return resp, err
}

// fail records err on rec unless the caller's context is gone, in which case
// the outcome is Interrupted and nothing is attached.
func (p *Processor) fail(ctx context.Context, log logr.Logger, rec record.Record, err error) Outcome {
	if ctx.Err() != nil {
		return Outcome{Record: rec, Status: Interrupted, Err: ctx.Err()}
	}
	msg := Message(err)
	out, derr := rec.Without(p.opts.Drop...)
	if derr != nil {
		out = rec
	}
	if withErr, werr := out.With(p.opts.ErrorField, msg); werr == nil {
		out = withErr
	} else {
		// The error field path clashes with the record shape; fall back to a
		// fresh object so the failure is still visible.
		var b record.Builder
		_ = b.SetRaw("_raw", mustEncode(rec.String()))
		_ = b.Set("error", msg)
		out, _ = b.Record()
	}
	log.Error(err, "record failed")
	return Outcome{Record: out, Status: Failed, Err: err}
}

// Message is err as a single line.
func Message(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}

func mustEncode(s string) []byte {
	b, err := record.EncodeString(s)
	if err != nil {
		return []byte(`""`)
	}
	return b
}

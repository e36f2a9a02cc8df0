// Package pipeline drives a job from resume point to completion: it counts
// what the output already holds, skips that many input records, then
// processes and appends the rest strictly in input order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/flarebyte/scribe/internal/processor"
	"github.com/flarebyte/scribe/internal/record"
	"github.com/flarebyte/scribe/internal/resume"
	"github.com/flarebyte/scribe/internal/sink"
	"github.com/flarebyte/scribe/internal/source"
)

// Malformed-line policies.
const (
	// MalformedSkip drops unparseable lines in both phases, so they never
	// count toward the resume offset.
	MalformedSkip = "skip"
	// MalformedEmit writes a placeholder record for each unparseable line,
	// keeping output line n aligned with input entry n.
	MalformedEmit = "emit"
)

// ErrReadFailed wraps source errors raised mid-stream.
var ErrReadFailed = errors.New("source read failed")

type Processor interface {
	Process(ctx context.Context, index int, rec record.Record, locator string) processor.Outcome
	ErrorField() string
}

// Appender receives committed records. The default is a sink.Sink on OutPath.
type Appender interface {
	Append(rec record.Record) error
	Close() error
}

// Job is everything one run needs.
type Job struct {
	Source    source.Source
	OutPath   string
	Processor Processor
	// Workers above 1 processes records concurrently; commits stay ordered.
	Workers   int
	Malformed string
	Sync      bool
	// Out overrides the sink opened on OutPath. The resume offset is still
	// read from OutPath.
	Out      Appender
	Observer Observer
	Log      logr.Logger
	RunID    string
}

type Summary struct {
	RunID         string `json:"runId"`
	State         State  `json:"state"`
	Offset        int    `json:"offset"`
	Processed     int    `json:"processed"`
	Augmented     int    `json:"augmented"`
	PassedThrough int    `json:"passedThrough"`
	Failed        int    `json:"failed"`
	Malformed     int    `json:"malformed"`
	Written       int    `json:"written"`
}

type runner struct {
	job     Job
	log     logr.Logger
	obs     Observer
	out     Appender
	summary Summary
}

// Run executes job. A non-nil error means the run ended in StateFailed;
// per-record failures never surface here. An interrupted run returns the
// context error with StateInterrupted.
func Run(ctx context.Context, job Job) (Summary, error) {
	if job.Malformed == "" {
		job.Malformed = MalformedSkip
	}
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	r := &runner{job: job, log: job.Log.WithValues("run", job.RunID), obs: job.Observer}
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	r.summary.RunID = job.RunID
	r.transition(StateInit)

	if err := r.validate(); err != nil {
		return r.fail(err)
	}
	progress, err := resume.Inspect(job.OutPath)
	if err != nil {
		return r.fail(err)
	}
	r.summary.Offset = progress.Offset()
	r.log.Info("resume point", "offset", r.summary.Offset, "path", job.OutPath, "tornBytes", progress.TornBytes)

	// The input is opened first so an unavailable source leaves the output
	// path untouched.
	it, err := job.Source.Open(ctx)
	if err != nil {
		if !errors.Is(err, source.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", source.ErrUnavailable, err)
		}
		return r.fail(err)
	}
	defer it.Close()

	if job.Out != nil {
		r.out = job.Out
	} else {
		s, err := sink.Open(job.OutPath, sink.Options{Sync: job.Sync, Log: r.log})
		if err != nil {
			return r.fail(err)
		}
		r.out = s
	}
	defer func() {
		if err := r.out.Close(); err != nil {
			r.log.Error(err, "close output")
		}
	}()

	r.transition(StateSkipping)
	exhausted, err := r.skip(ctx, it)
	if err != nil {
		return r.end(ctx, err)
	}
	var first source.Entry
	if !exhausted {
		first, err = r.next(it)
		if errors.Is(err, io.EOF) {
			exhausted = true
		} else if err != nil {
			return r.end(ctx, err)
		}
	}
	if exhausted {
		r.log.Info("input already complete", "offset", r.summary.Offset)
		r.transition(StateDone)
		return r.summary, nil
	}
	it = &replay{Iterator: it, first: &first}

	r.transition(StateProcessing)
	if job.Workers > 1 {
		err = r.processOrdered(ctx, it)
	} else {
		err = r.processSequential(ctx, it)
	}
	return r.end(ctx, err)
}

func (r *runner) validate() error {
	switch {
	case r.job.Source == nil:
		return errors.New("job has no source")
	case r.job.Processor == nil:
		return errors.New("job has no processor")
	case r.job.OutPath == "":
		return fmt.Errorf("%w: empty path", sink.ErrUnopenable)
	}
	switch r.job.Malformed {
	case MalformedSkip, MalformedEmit:
	default:
		return fmt.Errorf("unknown malformed policy %q", r.job.Malformed)
	}
	return nil
}

func (r *runner) transition(s State) {
	r.summary.State = s
	r.log.V(1).Info("state", "state", s.String())
	r.obs.StateChanged(r.job.RunID, s)
}

func (r *runner) fail(err error) (Summary, error) {
	r.transition(StateFailed)
	r.log.Error(err, "run failed")
	return r.summary, err
}

// end maps the processing result onto a terminal state.
func (r *runner) end(ctx context.Context, err error) (Summary, error) {
	switch {
	case err == nil && ctx.Err() == nil:
		r.transition(StateDone)
		r.log.Info("run complete", "written", r.summary.Written, "failed", r.summary.Failed)
		return r.summary, nil
	case ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())):
		r.transition(StateInterrupted)
		r.log.Info("run interrupted", "written", r.summary.Written)
		return r.summary, ctx.Err()
	}
	return r.fail(err)
}

// counts reports whether an entry occupies an output line under the
// malformed policy.
func (r *runner) counts(e source.Entry) bool {
	return e.OK() || r.job.Malformed == MalformedEmit
}

// skip consumes Offset counted entries. It reports whether the source ended
// first.
func (r *runner) skip(ctx context.Context, it source.Iterator) (bool, error) {
	for skipped := 0; skipped < r.summary.Offset; {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			if skipped < r.summary.Offset {
				r.log.Info("output holds more records than the input", "output", r.summary.Offset, "input", skipped)
			}
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrReadFailed, err)
		}
		if r.counts(e) {
			skipped++
		}
	}
	return false, nil
}

// next returns the next entry or io.EOF.
func (r *runner) next(it source.Iterator) (source.Entry, error) {
	e, err := it.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return e, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return e, err
}

func (r *runner) processSequential(ctx context.Context, it source.Iterator) error {
	index := r.summary.Offset
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := r.next(it)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		res := r.handle(ctx, index, e)
		if err := r.commit(index, res); err != nil {
			return err
		}
		if !res.drop {
			index++
		}
	}
}

// result is the fate of one source entry. Dropped results only update the
// summary.
type result struct {
	out       processor.Outcome
	malformed bool
	drop      bool
	locator   string
}

// handle produces the result for e.
func (r *runner) handle(ctx context.Context, index int, e source.Entry) result {
	if e.OK() {
		return result{out: r.job.Processor.Process(ctx, index, e.Record, e.Locator), locator: e.Locator}
	}
	if r.job.Malformed == MalformedSkip {
		return result{out: processor.Outcome{Err: e.Malformed}, malformed: true, drop: true, locator: e.Locator}
	}
	return result{out: r.placeholder(e), malformed: true, locator: e.Locator}
}

// placeholder is the output line written for a malformed entry under
// MalformedEmit.
func (r *runner) placeholder(e source.Entry) processor.Outcome {
	errField := r.job.Processor.ErrorField()
	if errField == "" || errField == "_raw" {
		errField = "error"
	}
	var b record.Builder
	_ = b.Set("_raw", e.Raw)
	_ = b.Set(errField, "malformed record: "+e.Locator+": "+processor.Message(e.Malformed))
	rec, _ := b.Record()
	return processor.Outcome{Record: rec, Status: processor.Failed, Err: e.Malformed, Malformed: true}
}

// commit appends the index-th output record. Interrupted outcomes are never
// written.
func (r *runner) commit(index int, res result) error {
	out := res.out
	if res.drop {
		r.summary.Malformed++
		r.log.Info("skipping malformed record", "locator", res.locator, "reason", out.Err.Error())
		return nil
	}
	if !out.Writable() {
		return out.Err
	}
	if err := r.out.Append(out.Record); err != nil {
		return err
	}
	r.summary.Written++
	if res.malformed {
		r.summary.Malformed++
		r.log.Info("emitted malformed record", "index", index)
	} else {
		r.summary.Processed++
		switch out.Status {
		case processor.Augmented:
			r.summary.Augmented++
		case processor.PassThrough:
			r.summary.PassedThrough++
		case processor.Failed:
			r.summary.Failed++
		}
	}
	r.obs.RecordDone(r.job.RunID, index, out)
	return nil
}

// replay yields a look-ahead entry before resuming the wrapped iterator.
type replay struct {
	source.Iterator
	first *source.Entry
}

func (r *replay) Next() (source.Entry, error) {
	if r.first != nil {
		e := *r.first
		r.first = nil
		return e, nil
	}
	return r.Iterator.Next()
}

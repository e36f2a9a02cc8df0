package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flarebyte/scribe/internal/service"
)

// ScriptedService answers by instruction. Unknown instructions echo back.
// It is safe for concurrent use.
type ScriptedService struct {
	Answers map[string]string
	Fail    map[string]error
	// Delay, when set, is waited before answering the given instruction.
	Delay map[string]time.Duration
	// Hook runs before each answer; tests use it to cancel mid-run.
	Hook func(req service.Request)

	mu    sync.Mutex
	calls []string
}

func (s *ScriptedService) Name() string { return "scripted" }

func (s *ScriptedService) Generate(ctx context.Context, req service.Request) (service.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Instruction)
	s.mu.Unlock()
	if s.Hook != nil {
		s.Hook(req)
	}
	if d := s.Delay[req.Instruction]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return service.Response{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return service.Response{}, err
	}
	if err, ok := s.Fail[req.Instruction]; ok {
		return service.Response{}, err
	}
	if a, ok := s.Answers[req.Instruction]; ok {
		return service.Response{Segments: service.SplitThink(a)}, nil
	}
	return service.Response{Segments: []service.Segment{{Text: fmt.Sprintf("echo:%s", req.Instruction)}}}, nil
}

// Calls returns the instructions received so far, in arrival order.
func (s *ScriptedService) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

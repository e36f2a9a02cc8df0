package service

import "context"

// Echo answers with the instruction it was given. It backs dry runs.
type Echo struct{}

func (Echo) Name() string { return ProviderEcho }

func (Echo) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return Response{Segments: []Segment{{Text: req.Instruction}}}, nil
}

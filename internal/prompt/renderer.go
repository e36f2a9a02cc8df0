package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/flarebyte/scribe/internal/record"
)

// Prompt is the text part of a request.
type Prompt struct {
	System      string
	Instruction string
}

// Renderer builds prompts from records. Either Template or Script produces the
// instruction; Filter, when set, decides which records reach the model.
type Renderer struct {
	Template   *Template
	Script     *Script
	Filter     *Script
	System     string
	Vars       map[string]string
	InputField string
}

var errNoTemplate = errors.New("prompt: no template or script configured")

func (r *Renderer) globals(rec record.Record) map[string]any {
	input, _ := rec.Text(r.InputField)
	vars := make(map[string]any, len(r.Vars))
	for k, v := range r.Vars {
		vars[k] = v
	}
	return map[string]any{
		"record": rec.Fields(),
		"input":  input,
		"vars":   vars,
	}
}

// Admit runs the filter. Without one every record is admitted. Only nil and
// false reject.
func (r *Renderer) Admit(ctx context.Context, rec record.Record, locator string) (bool, error) {
	if r.Filter == nil {
		return true, nil
	}
	return r.Filter.Test(ctx, locator, r.globals(rec))
}

// Render builds the prompt for rec. It never modifies rec.
func (r *Renderer) Render(ctx context.Context, rec record.Record, locator string) (Prompt, error) {
	p := Prompt{System: r.System}
	switch {
	case r.Script != nil:
		v, err := r.Script.Run(ctx, locator, r.globals(rec))
		if err != nil {
			return Prompt{}, err
		}
		s, ok := v.(string)
		if !ok {
			return Prompt{}, fmt.Errorf("%s: must return a string, got %T", r.Script.Name, v)
		}
		p.Instruction = s
	case r.Template != nil:
		s, err := r.Template.Execute(Values{Record: rec, InputField: r.InputField, Vars: r.Vars})
		if err != nil {
			return Prompt{}, err
		}
		p.Instruction = s
	default:
		return Prompt{}, errNoTemplate
	}
	return p, nil
}

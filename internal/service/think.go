package service

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitThink separates <think>...</think> blocks from visible text. Reasoning
// models served through chat endpoints inline their thoughts this way. A
// close tag with no open tag marks everything before it as thought, which is
// how some servers emit a response whose opening tag was in the prompt.
func SplitThink(text string) []Segment {
	var segs []Segment
	add := func(s string, thought bool) {
		if thought {
			s = strings.TrimSpace(s)
		}
		if s == "" {
			return
		}
		segs = append(segs, Segment{Text: s, Thought: thought})
	}
	rest := text
	if o, c := strings.Index(rest, thinkOpen), strings.Index(rest, thinkClose); c >= 0 && (o < 0 || c < o) {
		add(rest[:c], true)
		rest = rest[c+len(thinkClose):]
	}
	for {
		o := strings.Index(rest, thinkOpen)
		if o < 0 {
			add(rest, false)
			break
		}
		add(rest[:o], false)
		rest = rest[o+len(thinkOpen):]
		c := strings.Index(rest, thinkClose)
		if c < 0 {
			add(rest, true)
			break
		}
		add(rest[:c], true)
		rest = rest[c+len(thinkClose):]
	}
	if len(segs) > 0 && !segs[0].Thought {
		segs[0].Text = strings.TrimLeft(segs[0].Text, "\n")
	}
	for i := range segs {
		if i > 0 && !segs[i].Thought && segs[i-1].Thought {
			segs[i].Text = strings.TrimLeft(segs[i].Text, "\n")
		}
	}
	return dropEmpty(segs)
}

func dropEmpty(segs []Segment) []Segment {
	out := segs[:0]
	for _, s := range segs {
		if s.Text != "" {
			out = append(out, s)
		}
	}
	return out
}

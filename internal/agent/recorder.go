package agent

import (
	"context"
	"sync"
)

// ToolInvocation is one normalized tool call: name, parsed arguments, and
// the value the tool returned. The orchestrator reads these instead of
// sniffing provider wire formats out of the raw transcript.
type ToolInvocation struct {
	ToolName  string
	Arguments any
	Result    any
}

// Recorder collects tool invocations during one generation. Tools run on
// goroutines owned by the LLM loop, so access is locked.
type Recorder struct {
	mu          sync.Mutex
	invocations []ToolInvocation
}

// Record appends one invocation.
func (r *Recorder) Record(inv ToolInvocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, inv)
}

// Invocations returns a copy of everything recorded so far.
func (r *Recorder) Invocations() []ToolInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]ToolInvocation, len(r.invocations))
	copy(cp, r.invocations)
	return cp
}

type recorderKey struct{}

// WithRecorder attaches a fresh Recorder to ctx and returns both. The
// context flows through the LLM loop into tool executions, so tools can
// report their invocations back to the request that spawned them.
func WithRecorder(ctx context.Context) (context.Context, *Recorder) {
	r := &Recorder{}
	return context.WithValue(ctx, recorderKey{}, r), r
}

// RecorderFrom returns the Recorder attached to ctx, or nil.
func RecorderFrom(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

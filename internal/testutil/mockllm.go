package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM returns deterministic responses for testing the agent loop.
// Rules match a substring of the last user message, case-insensitively, in
// registration order. A rule may request tool calls; once the transcript
// contains tool responses the rule answers with its final text, so a
// tool-calling exchange settles in two model turns.
//
// Safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	calls    []MockCall
	genErr   error
}

type mockRule struct {
	pattern string
	text    string
	tools   []*ai.ToolRequest
}

// MockCall records one invocation of the mock model.
type MockCall struct {
	UserMessage string
	Response    string
}

// NewMockLLM creates a mock model answering fallback when no rule matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern answered with plain text.
func (m *MockLLM) AddResponse(pattern, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), text: text})
}

// AddToolResponse registers a pattern that first requests the given tool
// calls, then answers with text once their results are in the transcript.
func (m *MockLLM) AddToolResponse(pattern string, tools []*ai.ToolRequest, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern: strings.ToLower(pattern),
		text:    text,
		tools:   tools,
	})
}

// FailWith makes every subsequent generation call return err.
func (m *MockLLM) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genErr = err
}

// Calls returns a copy of all recorded model invocations.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Register registers the mock under "mock/test-model" and returns it.
func (m *MockLLM) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	// Tool results present means the loop already ran the requested tools.
	toolPhaseDone := false
	if last := len(req.Messages) - 1; last >= 0 {
		for _, p := range req.Messages[last].Content {
			if p.Kind == ai.PartToolResponse {
				toolPhaseDone = true
			}
		}
	}

	m.mu.Lock()
	if err := m.genErr; err != nil {
		m.mu.Unlock()
		return nil, err
	}

	var matched *mockRule
	lower := strings.ToLower(userText)
	for i := range m.rules {
		if strings.Contains(lower, m.rules[i].pattern) {
			matched = &m.rules[i]
			break
		}
	}

	text := m.fallback
	if matched != nil {
		text = matched.text
	}
	m.calls = append(m.calls, MockCall{UserMessage: userText, Response: text})
	m.mu.Unlock()

	if cb != nil {
		_ = cb(ctx, &ai.ModelResponseChunk{
			Content: []*ai.Part{ai.NewTextPart(text)},
		})
	}

	var parts []*ai.Part
	if matched != nil && len(matched.tools) > 0 && !toolPhaseDone {
		for _, tr := range matched.tools {
			parts = append(parts, &ai.Part{Kind: ai.PartToolRequest, ToolRequest: tr})
		}
	} else {
		parts = append(parts, ai.NewTextPart(text))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{Role: ai.RoleModel, Content: parts},
	}, nil
}

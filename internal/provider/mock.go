package provider

import (
	"context"
	"sync"
)

// MockCall describes one call received by a MockBackend.
type MockCall struct {
	Capability Capability
	Prompt     string
	Text       string
	Image      []byte
	Document   []byte
	N          int // 1-based call number for this capability
}

// MockFunc produces the response for a mock call.
type MockFunc func(ctx context.Context, call MockCall) (string, error)

// MockBackend is an in-process backend used by the mock provider type and
// by tests. It serves every capability.
type MockBackend struct {
	mu          sync.Mutex
	unavailable bool
	handlers    map[Capability]MockFunc
	calls       map[Capability]int
	prompts     []string
}

// NewMockBackend returns a backend answering with fixed placeholder text.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		handlers: map[Capability]MockFunc{
			HTR: func(context.Context, MockCall) (string, error) {
				return "Transcribed text", nil
			},
			Formatting: func(_ context.Context, call MockCall) (string, error) {
				return "# Document\n\n" + call.Text, nil
			},
			VLMDirect: func(context.Context, MockCall) (string, error) {
				return "# Page", nil
			},
			DocumentIntelligence: func(context.Context, MockCall) (string, error) {
				return "Document text", nil
			},
		},
		calls: make(map[Capability]int),
	}
}

// On replaces the handler for a capability.
func (m *MockBackend) On(c Capability, fn MockFunc) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[c] = fn
	return m
}

// SetAvailable toggles the connectivity check result.
func (m *MockBackend) SetAvailable(available bool) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = !available
	return m
}

// Calls returns how many calls a capability received.
func (m *MockBackend) Calls(c Capability) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[c]
}

// Prompts returns every prompt received, in order.
func (m *MockBackend) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *MockBackend) supports() CapabilitySet {
	return NewCapabilitySet(AllCapabilities()...)
}

func (m *MockBackend) available(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable
}

func (m *MockBackend) complete(ctx context.Context, req request) (string, error) {
	m.mu.Lock()
	m.calls[req.Capability]++
	m.prompts = append(m.prompts, req.Prompt)
	call := MockCall{
		Capability: req.Capability,
		Prompt:     req.Prompt,
		Text:       req.Text,
		Image:      req.Image,
		Document:   req.Document,
		N:          m.calls[req.Capability],
	}
	fn := m.handlers[req.Capability]
	m.mu.Unlock()

	if fn == nil {
		return "", nil
	}
	return fn(ctx, call)
}

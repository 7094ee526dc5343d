package genai

import (
	"context"
	"sync"
)

// MockGenerator returns scripted responses in order (for tests and dry runs).
// When the script runs out the last entry is repeated.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	temps     []float64
}

// NewMockGenerator creates a MockGenerator with the given responses.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// FailWith makes every subsequent call return err.
func (m *MockGenerator) FailWith(err error) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.temps = append(m.temps, opts.Temperature)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", ErrEmptyResponse
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

// Prompts returns every prompt received so far.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Temperatures returns the temperature of every call so far.
func (m *MockGenerator) Temperatures() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.temps...)
}

package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted CompletionClient for tests. Responses are keyed by
// operation; unmatched operations return an error unless a fallback is set.
type MockClient struct {
	mu        sync.Mutex
	responses map[string][]string
	served    map[string]int
	Fallback  string
	Err       error
	Calls     []Request
}

// NewMockClient returns an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{
		responses: make(map[string][]string),
		served:    make(map[string]int),
	}
}

// Respond queues responses for an operation, consumed in order. The last
// queued response repeats once the queue is exhausted.
func (m *MockClient) Respond(operation string, contents ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[operation] = append(m.responses[operation], contents...)
}

// Complete implements CompletionClient.
func (m *MockClient) Complete(_ context.Context, _ string, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	queued := m.responses[req.Operation]
	if len(queued) == 0 {
		if m.Fallback != "" {
			return &Response{Content: m.Fallback}, nil
		}
		return nil, fmt.Errorf("no mock response for operation %q", req.Operation)
	}
	idx := m.served[req.Operation]
	if idx >= len(queued) {
		idx = len(queued) - 1
	}
	m.served[req.Operation]++
	return &Response{Content: queued[idx]}, nil
}

// CallCount returns how many completions were requested for an operation.
func (m *MockClient) CallCount(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}

package nlu

import (
	"context"
	"sync"
)

// Mock is a scripted Service for tests. Each Interpret call returns the next
// configured output; when the script runs out, the last output repeats.
//
//	mock := &nlu.Mock{Outputs: []nlu.Output{
//	    {Commands: dialogue.CommandList{dialogue.StartFlow{FlowName: "book_flight"}}},
//	    {Commands: dialogue.CommandList{dialogue.SetSlot{Name: "origin", Value: "NYC"}}},
//	}}
type Mock struct {
	// Outputs is the scripted sequence of interpretations.
	Outputs []Output

	// Err, if set, is returned by every Interpret call.
	Err error

	// Calls records each invocation for assertions.
	Calls []MockCall

	mu    sync.Mutex
	index int
}

// MockCall records a single Interpret invocation.
type MockCall struct {
	UserMessage string
	Context     Context
}

// Interpret implements Service.
func (m *Mock) Interpret(_ context.Context, userMessage string, dctx Context) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{UserMessage: userMessage, Context: dctx})

	if m.Err != nil {
		return Output{}, m.Err
	}
	if len(m.Outputs) == 0 {
		return Output{MessageType: MessageTask}, nil
	}

	out := m.Outputs[m.index]
	if m.index < len(m.Outputs)-1 {
		m.index++
	}
	return out, nil
}

// Reset rewinds the script and clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = 0
	m.Calls = nil
}

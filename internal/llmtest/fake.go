// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel is a scripted model.BaseChatModel. Generate answers with Reply,
// Stream emits Chunks then StreamErr (if set). Err fails both calls up front.
type ChatModel struct {
	Reply     string
	Chunks    []string
	Err       error
	StreamErr error

	// Block, when set, is waited on before each streamed chunk.
	Block chan struct{}

	mu      sync.Mutex
	inputs  [][]*schema.Message
	options []*model.Options
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.record(input, opts)
	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Reply, nil), nil
}

// Stream implements model.BaseChatModel.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input, opts)
	if m.Err != nil {
		return nil, m.Err
	}

	reader, writer := schema.Pipe[*schema.Message](len(m.Chunks) + 1)
	go func() {
		defer writer.Close()
		for _, chunk := range m.Chunks {
			if m.Block != nil {
				select {
				case <-m.Block:
				case <-ctx.Done():
					return
				}
			}
			if closed := writer.Send(schema.AssistantMessage(chunk, nil), nil); closed {
				return
			}
		}
		if m.StreamErr != nil {
			writer.Send(nil, m.StreamErr)
		}
	}()

	return reader, nil
}

// Calls returns how many times the model was invoked.
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// LastInput returns the messages of the most recent call.
func (m *ChatModel) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

// LastOptions returns the resolved common options of the most recent call.
func (m *ChatModel) LastOptions() *model.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return nil
	}
	return m.options[len(m.options)-1]
}

func (m *ChatModel) record(input []*schema.Message, opts []model.Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	m.options = append(m.options, model.GetCommonOptions(&model.Options{}, opts...))
}

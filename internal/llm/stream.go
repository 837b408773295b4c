package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/atelier-dev/atelier/internal/logger"
)

// streamChunk mirrors one `data:` event of an OpenAI-style SSE stream
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta        *streamDelta `json:"delta"`
	FinishReason string       `json:"finish_reason"`
}

type streamDelta struct {
	Content   string          `json:"content"`
	ToolCalls []toolCallDelta `json:"tool_calls"`
}

// toolCallDelta is one fragment of a tool call. Providers split a single
// call's name and JSON arguments across many chunks; fragments sharing an
// index belong to the same call.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type pendingToolCall struct {
	index int
	id    strings.Builder
	name  strings.Builder
	args  strings.Builder
}

// StreamDecoder reassembles an SSE event stream from arbitrary text chunks.
// Chunk boundaries carry no meaning: any split of the same byte stream yields
// the same content deltas and the same final tool-call set.
type StreamDecoder struct {
	onContent func(delta string) error

	carry        string
	content      strings.Builder
	calls        map[int]*pendingToolCall
	finishReason string
	done         bool
}

// NewStreamDecoder creates a decoder. onContent may be nil when the caller
// only needs the aggregate result.
func NewStreamDecoder(onContent func(delta string) error) *StreamDecoder {
	return &StreamDecoder{
		onContent: onContent,
		calls:     make(map[int]*pendingToolCall),
	}
}

// Done reports whether the `[DONE]` sentinel has been seen
func (d *StreamDecoder) Done() bool {
	return d.done
}

// Feed appends a chunk and processes every complete line it contains. The
// last, possibly incomplete line is held back until the next chunk. The only
// error Feed can return is one propagated from the onContent callback.
func (d *StreamDecoder) Feed(chunk string) error {
	if d.done {
		return nil
	}

	d.carry += chunk
	for {
		idx := strings.IndexByte(d.carry, '\n')
		if idx < 0 {
			return nil
		}
		line := d.carry[:idx]
		d.carry = d.carry[idx+1:]

		if err := d.processLine(line); err != nil {
			return err
		}
		if d.done {
			return nil
		}
	}
}

func (d *StreamDecoder) processLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return nil
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return nil
	}
	if data == "[DONE]" {
		d.done = true
		return nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// One malformed event must not kill the round
		logger.Debug("stream decoder: dropping malformed event: %v", err)
		return nil
	}

	for _, choice := range chunk.Choices {
		if choice.FinishReason != "" {
			d.finishReason = choice.FinishReason
		}
		if choice.Delta == nil {
			continue
		}

		if choice.Delta.Content != "" {
			d.content.WriteString(choice.Delta.Content)
			if d.onContent != nil {
				if err := d.onContent(choice.Delta.Content); err != nil {
					return err
				}
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			call, ok := d.calls[tc.Index]
			if !ok {
				call = &pendingToolCall{index: tc.Index}
				d.calls[tc.Index] = call
			}
			call.id.WriteString(tc.ID)
			call.name.WriteString(tc.Function.Name)
			call.args.WriteString(tc.Function.Arguments)
		}
	}

	return nil
}

// Finish flushes the carried partial line and returns the aggregate result.
// Accumulated calls whose arguments do not parse as JSON are reported as
// invalid individually.
func (d *StreamDecoder) Finish() *StreamResult {
	if carry := d.carry; carry != "" {
		d.carry = ""
		_ = d.processLine(carry)
	}

	indices := make([]int, 0, len(d.calls))
	for idx := range d.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	result := &StreamResult{
		Content:      d.content.String(),
		FinishReason: d.finishReason,
	}

	for _, idx := range indices {
		call := d.calls[idx]
		args := call.args.String()
		if args == "" {
			args = "{}"
		}

		if !json.Valid([]byte(args)) {
			result.InvalidCalls = append(result.InvalidCalls, InvalidToolCall{
				ID:           call.id.String(),
				Name:         call.name.String(),
				RawArguments: args,
				Err:          fmt.Errorf("tool call arguments are not valid JSON"),
			})
			continue
		}

		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   call.id.String(),
			Type: "function",
			Function: FunctionCall{
				Name:      call.name.String(),
				Arguments: args,
			},
		})
	}

	result.ToolCalls = NormalizeToolCallIDs(result.ToolCalls)
	return result
}

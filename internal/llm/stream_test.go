package llm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toolCallStream = `data: {"choices":[{"delta":{"content":"I'll list "}}]}
data: {"choices":[{"delta":{"content":"the files."}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc","function":{"name":"list","arguments":""}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"_dir","arguments":"{\"path\":"}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"src\"}"}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_def","function":{"name":"read_file","arguments":"{\"path\":\"go.mod\"}"}}]}}]}
data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}
data: [DONE]
`

func decodeAll(t *testing.T, stream string, chunkSize int) (*StreamResult, []string) {
	t.Helper()

	var deltas []string
	d := NewStreamDecoder(func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})

	for i := 0; i < len(stream); i += chunkSize {
		end := i + chunkSize
		if end > len(stream) {
			end = len(stream)
		}
		require.NoError(t, d.Feed(stream[i:end]))
	}

	return d.Finish(), deltas
}

func TestDecoderAssemblesToolCallFragments(t *testing.T) {
	result, deltas := decodeAll(t, toolCallStream, len(toolCallStream))

	assert.Equal(t, "I'll list the files.", result.Content)
	assert.Equal(t, []string{"I'll list ", "the files."}, deltas)
	assert.Equal(t, "tool_calls", result.FinishReason)

	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "call_abc", result.ToolCalls[0].ID)
	assert.Equal(t, "list_dir", result.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"src"}`, result.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_def", result.ToolCalls[1].ID)
	assert.Equal(t, "read_file", result.ToolCalls[1].Function.Name)
}

func TestDecoderSplitInvariance(t *testing.T) {
	reference, refDeltas := decodeAll(t, toolCallStream, len(toolCallStream))

	for _, size := range []int{1, 2, 3, 5, 7, 13, 64, 257} {
		result, deltas := decodeAll(t, toolCallStream, size)

		assert.Equal(t, reference.Content, result.Content, "chunk size %d", size)
		assert.Equal(t, reference.ToolCalls, result.ToolCalls, "chunk size %d", size)
		assert.Equal(t, reference.FinishReason, result.FinishReason, "chunk size %d", size)

		// Delta boundaries may differ between chunkings; the concatenation
		// must not.
		joined := ""
		for _, d := range deltas {
			joined += d
		}
		refJoined := ""
		for _, d := range refDeltas {
			refJoined += d
		}
		assert.Equal(t, refJoined, joined, "chunk size %d", size)
	}
}

func TestDecoderDropsMalformedLines(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: {this is not json\n" +
		"event: noise\n" +
		"\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" still ok\"}}]}\n" +
		"data: [DONE]\n"

	result, _ := decodeAll(t, stream, 9)
	assert.Equal(t, "ok still ok", result.Content)
	assert.Empty(t, result.ToolCalls)
}

func TestDecoderInvalidArgumentsFailPerCall(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a","function":{"name":"good","arguments":"{}"}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"b","function":{"name":"bad","arguments":"{\"x\": "}}]}}]}
data: [DONE]
`
	result, _ := decodeAll(t, stream, 11)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "good", result.ToolCalls[0].Function.Name)

	require.Len(t, result.InvalidCalls, 1)
	assert.Equal(t, "bad", result.InvalidCalls[0].Name)
	assert.Error(t, result.InvalidCalls[0].Err)
	assert.True(t, result.HasToolCalls())
}

func TestDecoderEmptyArgumentsDefaultToEmptyObject(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a","function":{"name":"noargs","arguments":""}}]}}]}
data: [DONE]
`
	result, _ := decodeAll(t, stream, len(stream))
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "{}", result.ToolCalls[0].Function.Arguments)
}

func TestDecoderIgnoresInputAfterDone(t *testing.T) {
	d := NewStreamDecoder(nil)
	require.NoError(t, d.Feed("data: [DONE]\n"))
	require.NoError(t, d.Feed(`data: {"choices":[{"delta":{"content":"late"}}]}`+"\n"))

	result := d.Finish()
	assert.Empty(t, result.Content)
	assert.True(t, d.Done())
}

func TestDecoderFlushesTrailingLineWithoutNewline(t *testing.T) {
	// A final event that arrives without a trailing newline must still count.
	stream := `data: {"choices":[{"delta":{"content":"tail"}}]}`

	d := NewStreamDecoder(nil)
	require.NoError(t, d.Feed(stream))
	result := d.Finish()
	assert.Equal(t, "tail", result.Content)
}

func TestDecoderContentCallbackErrorStopsFeed(t *testing.T) {
	d := NewStreamDecoder(func(string) error {
		return fmt.Errorf("sink closed")
	})
	err := d.Feed(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n")
	assert.EqualError(t, err, "sink closed")
}

func TestDecoderCRLFLines(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"win\"}}]}\r\ndata: [DONE]\r\n"
	result, _ := decodeAll(t, stream, 4)
	assert.Equal(t, "win", result.Content)
}

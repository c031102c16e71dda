package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Request(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    bool
		wantMethod string
		wantParams map[string]any
	}{
		{
			name:       "valid request with params",
			input:      `{"type":"req","id":"r1","method":"gateway.ping","params":{"x":1}}`,
			wantMethod: "gateway.ping",
			wantParams: map[string]any{"x": float64(1)},
		},
		{
			name:       "missing params defaults to empty object",
			input:      `{"type":"req","id":"r2","method":"gateway.status"}`,
			wantMethod: "gateway.status",
			wantParams: map[string]any{},
		},
		{
			name:    "empty id rejected",
			input:   `{"type":"req","id":"","method":"gateway.ping"}`,
			wantErr: true,
		},
		{
			name:    "empty method rejected",
			input:   `{"type":"req","id":"r3","method":""}`,
			wantErr: true,
		},
		{
			name:    "unknown key rejected",
			input:   `{"type":"req","id":"r4","method":"gateway.ping","extra":true}`,
			wantErr: true,
		},
		{
			name:    "non-object params rejected",
			input:   `{"type":"req","id":"r5","method":"gateway.ping","params":[1,2]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidFrame)
				return
			}
			require.NoError(t, err)
			req, ok := frame.(*RequestFrame)
			require.True(t, ok, "expected a request frame")
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantParams, req.Params)
		})
	}
}

func TestParseFrame_Response(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "ok response with payload",
			input: `{"type":"res","id":"r1","ok":true,"payload":{"now":1}}`,
		},
		{
			name:  "error response",
			input: `{"type":"res","id":"r1","ok":false,"error":{"code":"NOT_FOUND","message":"unknown method"}}`,
		},
		{
			name:  "retryable error with retryAfterMs",
			input: `{"type":"res","id":"r1","ok":false,"error":{"code":"UPSTREAM_ERROR","message":"busy","retryable":true,"retryAfterMs":250}}`,
		},
		{
			name:    "empty error code rejected",
			input:   `{"type":"res","id":"r1","ok":false,"error":{"code":"","message":"x"}}`,
			wantErr: true,
		},
		{
			name:    "negative retryAfterMs rejected",
			input:   `{"type":"res","id":"r1","ok":false,"error":{"code":"X","message":"y","retryAfterMs":-1}}`,
			wantErr: true,
		},
		{
			name:    "empty id rejected",
			input:   `{"type":"res","id":"","ok":true}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidFrame)
				return
			}
			require.NoError(t, err)
			_, ok := frame.(*ResponseFrame)
			assert.True(t, ok, "expected a response frame")
		})
	}
}

func TestParseFrame_Event(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		wantSeq *int64
	}{
		{
			name:  "event without seq",
			input: `{"type":"event","event":"trade.executed","payload":{"id":"e1"}}`,
		},
		{
			name:    "event with seq",
			input:   `{"type":"event","event":"market.tick","seq":7}`,
			wantSeq: int64Ptr(7),
		},
		{
			name:    "zero seq allowed",
			input:   `{"type":"event","event":"market.tick","seq":0}`,
			wantSeq: int64Ptr(0),
		},
		{
			name:    "negative seq rejected",
			input:   `{"type":"event","event":"market.tick","seq":-1}`,
			wantErr: true,
		},
		{
			name:    "empty event name rejected",
			input:   `{"type":"event","event":""}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			ev, ok := frame.(*EventFrame)
			require.True(t, ok, "expected an event frame")
			assert.Equal(t, tt.wantSeq, ev.Seq)
		})
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	for _, input := range []string{
		`not json`,
		`42`,
		`[]`,
		`{"type":"bogus","id":"x"}`,
		`{}`,
		`{"type":"req","id":"a","method":"m"}{"type":"req","id":"b","method":"m"}`,
	} {
		_, err := ParseFrame([]byte(input))
		assert.ErrorIs(t, err, ErrInvalidFrame, "input: %s", input)
	}
}

func TestExtractRequestID(t *testing.T) {
	assert.Equal(t, "abc", ExtractRequestID([]byte(`{"id":"abc","junk":true}`)))
	assert.Equal(t, FallbackRequestID, ExtractRequestID([]byte(`not json`)))
	assert.Equal(t, FallbackRequestID, ExtractRequestID([]byte(`{"id":""}`)))
	assert.Equal(t, FallbackRequestID, ExtractRequestID([]byte(`{}`)))
	assert.Equal(t, "42", ExtractRequestID([]byte(`{"id":42}`)))
}

func TestFrameConstructors(t *testing.T) {
	okRes := NewOKResponse("r1", map[string]any{"now": 1})
	data, err := json.Marshal(okRes)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"res","id":"r1","ok":true,"payload":{"now":1}}`, string(data))

	errRes := NewErrorResponse("r2", "NOT_FOUND", "unknown method: x", nil)
	data, err = json.Marshal(errRes)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"res","id":"r2","ok":false,"error":{"code":"NOT_FOUND","message":"unknown method: x"}}`, string(data))

	ev := NewEvent("risk.alert", map[string]any{"requestId": "r3"})
	data, err = json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"risk.alert","payload":{"requestId":"r3"}}`, string(data))

	// Constructed frames round-trip through the strict parser.
	parsed, err := ParseFrame(data)
	require.NoError(t, err)
	assert.IsType(t, &EventFrame{}, parsed)
}

func int64Ptr(v int64) *int64 { return &v }

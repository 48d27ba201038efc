package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcode/internal/domain"
)

func TestDecodeClientEvent_Authenticate(t *testing.T) {
	raw := []byte(`{"type":"authenticate","payload":{"user_id":7,"session_token":"tok"}}`)

	event, err := domain.DecodeClientEvent(raw)

	require.NoError(t, err)
	p, ok := event.(domain.AuthenticatePayload)
	require.True(t, ok, "应解析为 AuthenticatePayload")
	assert.Equal(t, uint(7), p.UserID)
	assert.Equal(t, "tok", p.SessionToken)
}

func TestDecodeClientEvent_CodeChangePassesChangesOpaquely(t *testing.T) {
	raw := []byte(`{"type":"code_change","payload":{"session_id":1,"code":"contract C {}","changes":[{"op":"ins"}]}}`)

	event, err := domain.DecodeClientEvent(raw)

	require.NoError(t, err)
	p, ok := event.(domain.CodeChangePayload)
	require.True(t, ok)
	assert.Equal(t, "contract C {}", p.Code)
	// changes 原样保留，服务端不解释其内容
	assert.JSONEq(t, `[{"op":"ins"}]`, string(p.Changes))
}

func TestDecodeClientEvent_TypingVariantsAreDistinct(t *testing.T) {
	start, err := domain.DecodeClientEvent([]byte(`{"type":"typing_start","payload":{"location":"chat"}}`))
	require.NoError(t, err)
	_, isStart := start.(domain.TypingStartPayload)
	assert.True(t, isStart)

	stop, err := domain.DecodeClientEvent([]byte(`{"type":"typing_stop","payload":{"location":"code"}}`))
	require.NoError(t, err)
	p, isStop := stop.(domain.TypingStopPayload)
	assert.True(t, isStop)
	assert.Equal(t, domain.TypingInCode, p.Location)
}

func TestDecodeClientEvent_LeaveSessionWithoutPayload(t *testing.T) {
	event, err := domain.DecodeClientEvent([]byte(`{"type":"leave_session"}`))

	require.NoError(t, err)
	_, ok := event.(domain.LeaveSessionPayload)
	assert.True(t, ok)
}

func TestDecodeClientEvent_UnknownType(t *testing.T) {
	_, err := domain.DecodeClientEvent([]byte(`{"type":"teleport","payload":{}}`))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownEvent))
}

func TestDecodeClientEvent_MalformedEnvelope(t *testing.T) {
	_, err := domain.DecodeClientEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodeClientEvent_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"authenticate 缺 token", `{"type":"authenticate","payload":{"user_id":7}}`},
		{"join 缺 session_id", `{"type":"join_session","payload":{}}`},
		{"send_message 空内容", `{"type":"send_message","payload":{"session_id":1,"content":"","type":"text"}}`},
		{"send_message 非法类型", `{"type":"send_message","payload":{"session_id":1,"content":"hi","type":"voice"}}`},
		{"typing 非法位置", `{"type":"typing_start","payload":{"location":"whiteboard"}}`},
		{"cursor 负坐标", `{"type":"cursor_update","payload":{"line":-1,"column":0}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.DecodeClientEvent([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestEncodeEvent_Roundtrip(t *testing.T) {
	data, err := domain.EncodeEvent(domain.EventUserTyping, domain.UserTypingPayload{
		UserID:   7,
		Location: domain.TypingInChat,
		IsTyping: true,
	})
	require.NoError(t, err)

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, domain.EventUserTyping, env.Type)

	var p domain.UserTypingPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, uint(7), p.UserID)
	assert.True(t, p.IsTyping)
}

func TestEncodeEvent_NilPayload(t *testing.T) {
	data, err := domain.EncodeEvent(domain.EventLeaveSession, nil)
	require.NoError(t, err)

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, domain.EventLeaveSession, env.Type)
	assert.Empty(t, env.Payload)
}

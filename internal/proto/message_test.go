package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	in, err := Decode([]byte(` {"type":"toggleTask","data":{"id":"7"},"messageId":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeToggleTask, in.Type)
	assert.JSONEq(t, `"abc"`, string(in.MessageID))

	var data TaskIDData
	require.NoError(t, in.DecodeData(&data))
	assert.Equal(t, ID(7), data.ID)

	for _, frame := range []string{"", "null", "[1,2]", `"text"`, "{broken"} {
		_, err := Decode([]byte(frame))
		assert.Error(t, err, "frame %q", frame)
	}
}

func TestDecodeDataMissing(t *testing.T) {
	for _, frame := range []string{`{"type":"getStats"}`, `{"type":"getStats","data":null}`} {
		in, err := Decode([]byte(frame))
		require.NoError(t, err)

		var data SearchData
		require.NoError(t, in.DecodeData(&data))
		assert.Empty(t, data.Query)
	}
}

func TestID(t *testing.T) {
	tests := []struct {
		raw     string
		want    ID
		wantErr bool
	}{
		{raw: `42`, want: 42},
		{raw: `"42"`, want: 42},
		{raw: `"x1"`, wantErr: true},
		{raw: `4.5`, wantErr: true},
		{raw: `true`, wantErr: true},
	}

	for _, tt := range tests {
		var id ID
		err := json.Unmarshal([]byte(tt.raw), &id)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, id)
	}
}

func TestEncode(t *testing.T) {
	b, err := EncodeResponse(TypePong, nil, json.RawMessage(`3`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","data":null,"messageId":3,"success":true}`, string(b))

	b, err = EncodePush(TypeTaskUpdated, PushPayload{Action: ActionDeleted, Task: DeletedPayload{ID: 5}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"task_updated","data":{"action":"deleted","task":{"id":5}},"success":true}`, string(b))
	assert.NotContains(t, string(b), "messageId")

	assert.JSONEq(t, `{"type":"error","error":"boom","success":false}`, string(EncodeError("boom", nil)))
}

func TestDueDatePatch(t *testing.T) {
	var u TaskUpdates
	got, err := u.DueDatePatch()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, json.Unmarshal([]byte(`{"dueDate":null}`), &u))
	got, err = u.DueDatePatch()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, *got)

	require.NoError(t, json.Unmarshal([]byte(`{"dueDate":"2026-05-01"}`), &u))
	got, err = u.DueDatePatch()
	require.NoError(t, err)
	assert.Equal(t, "2026-05-01", *got)

	require.NoError(t, json.Unmarshal([]byte(`{"dueDate":12}`), &u))
	_, err = u.DueDatePatch()
	assert.Error(t, err)
}

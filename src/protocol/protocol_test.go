package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"op":"auth"}`)))
	require.NoError(t, WriteFrame(&buf, nil))

	assert.Equal(t, []byte{0, 0, 0, 13}, buf.Bytes()[:4])

	payload, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"op":"auth"}`, string(payload))

	payload, err = ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Empty(t, payload)

	_, err = ReadFrame(&buf, 1024)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameErrors(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 1, 0}), 16)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 5, 'a'}), 16)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), 16)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestCompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"item":"pen","qty":3}`), 50)

	compressed := Compress(payload)
	assert.Less(t, len(compressed), len(payload))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	_, err = Decompress([]byte("not zstd"))
	assert.Error(t, err)
}

func TestResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want string
	}{
		{"ok without id", OK(nil, nil), `{"op":"ok"}`},
		{"ok with id and data", OK(json.RawMessage(`"7"`), map[string]interface{}{"result": []string{"a"}}), `{"op":"ok","id":"7","d":{"result":["a"]}}`},
		{"error with id", Fail(json.RawMessage(`"x"`), CodeFormat), `{"id":"x","error":"format"}`},
		{"event", Event("db_create", map[string]string{"name": "shop"}), `{"op":"event","d":{"ev":"db_create","d":{"name":"shop"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"op":"open_db","id":42,"d":{"name":"shop"}}`))
	require.NoError(t, err)
	assert.Equal(t, "open_db", req.Op)
	assert.Equal(t, "42", string(req.ID))
	assert.True(t, req.HasPayload())

	req, err = DecodeRequest([]byte(`{"op":"list_db","d":null}`))
	require.NoError(t, err)
	assert.False(t, req.HasPayload())

	_, err = DecodeRequest([]byte(`{"op":`))
	assert.Error(t, err)
}

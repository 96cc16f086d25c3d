package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMessage(t *testing.T) {
	msg, err := Event{
		Key:     "res-1",
		Type:    "add",
		Value:   map[string]string{"path": "/news"},
		Headers: map[string]string{"site": "demo"},
	}.message()
	require.NoError(t, err)
	assert.Equal(t, "res-1", string(msg.Key))
	assert.JSONEq(t, `{"path":"/news"}`, string(msg.Value))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, "add", string(msg.Headers[0].Value))
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Action string `json:"action"`
	}
	p, err := DecodeJSON[payload]([]byte(`{"action":"delete"}`))
	require.NoError(t, err)
	assert.Equal(t, "delete", p.Action)

	_, err = DecodeJSON[payload]([]byte(`{`))
	assert.Error(t, err)
}

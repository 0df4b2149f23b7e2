package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeEvent_WireShape(t *testing.T) {
	e := ChangeEvent{
		Action:    "update",
		Version:   2000,
		Data:      json.RawMessage(`{"id":"A"}`),
		Timestamp: time.Date(2024, 4, 5, 19, 34, 38, 901000000, time.UTC),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"update","version":2000,"data":{"id":"A"},"timestamp":"2024-04-05T19:34:38.901Z"}`, string(data))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 4)
}

func TestChangeEvent_EmptyDataIsObject(t *testing.T) {
	data, err := json.Marshal(NewChangeEvent(EventSync, 10, nil))
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "{}", string(fields["data"]))
}

func TestDecodeChangeEvent(t *testing.T) {
	e, err := DecodeChangeEvent([]byte(`{"action":"sync","version":3000,"data":{},"timestamp":"2024-04-05T19:34:38Z"}`))
	require.NoError(t, err)
	assert.Equal(t, Marker(3000), e.Version)
	assert.Equal(t, EventSync, e.Action)

	_, err = DecodeChangeEvent([]byte(`{"action":"sync","version":0}`))
	assert.Error(t, err)
	_, err = DecodeChangeEvent([]byte(`{"version":5}`))
	assert.Error(t, err)
	_, err = DecodeChangeEvent([]byte(`not json`))
	assert.Error(t, err)
}

package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactJSON_BearerToken(t *testing.T) {
	payload := []byte(`{"cmd": "curl -H 'Authorization: Bearer sk_live_ABC123' https://x"}`)

	out := RedactJSON(payload)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Contains(t, decoded["cmd"], redactedPlaceholder)
	require.NotContains(t, decoded["cmd"], "sk_live_ABC123")
	require.Contains(t, decoded["cmd"], "curl -H")
}

func TestRedactJSON_IsIdempotent(t *testing.T) {
	payload := []byte(`{"env": "API_KEY=supersecretvalue123", "nested": {"token": "ghp_abcdefghijklmnopqrst"}}`)

	once := RedactJSON(payload)
	twice := RedactJSON(once)

	require.JSONEq(t, string(once), string(twice))
}

func TestRedactJSON_PreservesNonStringLeaves(t *testing.T) {
	payload := []byte(`{"exit_code": -1, "timed_out": true, "count": 3}`)

	out := RedactJSON(payload)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, float64(-1), decoded["exit_code"])
	require.Equal(t, true, decoded["timed_out"])
	require.Equal(t, float64(3), decoded["count"])
}

func TestRedactJSON_RecursesNestedArraysAndObjects(t *testing.T) {
	payload := []byte(`{"entries": [{"header": "Authorization: Bearer zz999999999999999"}, {"plain": "no secret here"}]}`)

	out := RedactJSON(payload)

	var decoded map[string][]map[string]string
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Contains(t, decoded["entries"][0]["header"], redactedPlaceholder)
	require.Equal(t, "no secret here", decoded["entries"][1]["plain"])
}

func TestRedactJSON_InvalidJSONFallsBackToStringRedaction(t *testing.T) {
	payload := []byte(`not json but has PASSWORD=hunter2 in it`)

	out := RedactJSON(payload)

	require.Contains(t, string(out), redactedPlaceholder)
	require.NotContains(t, string(out), "hunter2")
}

package containermgr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func frame(streamID byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = streamID
	n := len(payload)
	header[4] = byte(n >> 24)
	header[5] = byte(n >> 16)
	header[6] = byte(n >> 8)
	header[7] = byte(n)
	return append(header, []byte(payload)...)
}

func TestDemuxExecOutput_SeparatesStdoutAndStderr(t *testing.T) {
	var raw bytes.Buffer
	raw.Write(frame(1, "hello stdout\n"))
	raw.Write(frame(2, "oops stderr\n"))

	var stdout, stderr strings.Builder
	require.NoError(t, demuxExecOutput(&raw, &stdout, &stderr))

	require.Equal(t, "hello stdout\n", stdout.String())
	require.Equal(t, "oops stderr\n", stderr.String())
}

func TestDemuxExecOutput_EmptyStreamIsNotAnError(t *testing.T) {
	var stdout, stderr strings.Builder
	require.NoError(t, demuxExecOutput(&bytes.Buffer{}, &stdout, &stderr))
	require.Empty(t, stdout.String())
	require.Empty(t, stderr.String())
}

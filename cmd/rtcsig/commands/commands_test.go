package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtcsig/internal/util"
)

func init() {
	util.SetLogWriter(io.Discard)
}

const sampleSDP = "v=0\n" +
	"o=- 1 1 IN IP4 127.0.0.1\n" +
	"s=-\n" +
	"t=0 0\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 0\n" +
	"c=IN IP4 0.0.0.0\n" +
	"a=rtpmap:111 opus/48000/2\n" +
	"a=rtpmap:0 PCMU/8000\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97\n" +
	"c=IN IP4 0.0.0.0\n" +
	"a=rtpmap:96 H264/90000\n" +
	"a=rtpmap:97 VP8/90000\n"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config-dir", t.TempDir()}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRewriteFromStdin(t *testing.T) {
	out, err := run(t, sampleSDP, "rewrite",
		"--video-recv-codec", "VP8/90000",
		"--audio-send-bitrate", "48",
		"--opus-stereo", "true",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "m=video 9 UDP/TLS/RTP/SAVPF 97 96\r\n")
	assert.Contains(t, out, "c=IN IP4 0.0.0.0\r\nb=AS:48\r\n")
	assert.Contains(t, out, "a=fmtp:111 minptime=10;useinbandfec=1;stereo=1\r\n")
}

func TestRewriteSides(t *testing.T) {
	// Receive options only touch local descriptions.
	out, err := run(t, sampleSDP, "rewrite", "--side", "remote", "--video-recv-codec", "VP8/90000", "--lf")
	require.NoError(t, err)
	assert.Equal(t, sampleSDP, out)

	_, err = run(t, sampleSDP, "rewrite", "--side", "sideways")
	assert.Error(t, err)
}

func TestRewriteFromFileWithConfig(t *testing.T) {
	dir := t.TempDir()
	sdpPath := filepath.Join(dir, "offer.sdp")
	require.NoError(t, os.WriteFile(sdpPath, []byte(sampleSDP), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rtcsig.yaml"), []byte("media:\n  strip-rtx: true\n  video-recv-bitrate: 500\n"), 0o644))

	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config-dir", dir, "rewrite", "--side", "local", sdpPath})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\nc=IN IP4 0.0.0.0\r\nb=AS:500\r\n")
}

func TestInspect(t *testing.T) {
	out, err := run(t, sampleSDP, "inspect")
	require.NoError(t, err)

	assert.Contains(t, out, "audio")
	assert.Contains(t, out, "111:opus/48000")
	assert.Contains(t, out, "97:VP8/90000")
}

func TestInspectRejectsGarbage(t *testing.T) {
	_, err := run(t, "not an sdp", "inspect")
	assert.Error(t, err)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := run(t, "", "connect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing server URL")

	_, err = run(t, "", "connect", "ftp://example.org")
	assert.Error(t, err)
}

func TestCloseMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.Equal(t, "connection closed, reconnecting", closeMessage(ctx))

	cancel()
	assert.Equal(t, "connection closed", closeMessage(ctx))
}

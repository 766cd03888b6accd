package shutdown

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func TestWriteCrashDump(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crash")
	p, err := WriteCrashDump(dir, "listen failed", errors.New("address in use"))
	require.NoError(t, err)

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, "reason: listen failed")
	assert.Contains(t, s, "error: address in use")
	assert.Contains(t, s, "goroutine")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "crash-"))
}

func TestSetupSignalHandlerFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SetupSignalHandler(parent)
	defer stop()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}

func TestShutdownServerStopsServing(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString("ok") }}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	c := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	code, body, err := c.Get(nil, "http://kitbridge.test/")
	require.NoError(t, err)
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", string(body))

	c.CloseIdleConnections()
	require.NoError(t, ShutdownServer(srv, time.Second))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

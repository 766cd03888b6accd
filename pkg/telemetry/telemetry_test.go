package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTraces(t *testing.T, path string) []Trace {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []Trace
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var tr Trace
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		out = append(out, tr)
	}
	return out
}

func TestSampledTracesAreWritten(t *testing.T) {
	dir := t.TempDir()
	tel, err := New(Options{Dir: dir, SampleRate: 1, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	tr := tel.Track("bridge.serve")
	tr.Mark("translate_request")
	tr.Mark("app_handle")
	tr.Finish()
	tr.Finish()
	tel.Close()

	traces := readTraces(t, filepath.Join(dir, "bridge.serve.jsonl"))
	require.Len(t, traces, 1)
	assert.Equal(t, "bridge.serve", traces[0].Name)
	assert.GreaterOrEqual(t, len(traces[0].Steps), 2)
	assert.Equal(t, "translate_request", traces[0].Steps[0].Name)
}

func TestUnsampledFastTracesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	tel, err := New(Options{Dir: dir, SampleRate: 0, SlowThreshold: time.Hour})
	require.NoError(t, err)

	tel.Track("quiet").Finish()
	tel.Close()

	_, err = os.Stat(filepath.Join(dir, "quiet.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestSlowTracesAreAlwaysWritten(t *testing.T) {
	dir := t.TempDir()
	tel, err := New(Options{Dir: dir, SampleRate: 0, SlowThreshold: time.Millisecond})
	require.NoError(t, err)

	tr := tel.Track("slow")
	time.Sleep(5 * time.Millisecond)
	tr.Finish()
	tel.Close()

	traces := readTraces(t, filepath.Join(dir, "slow.jsonl"))
	require.Len(t, traces, 1)
	assert.True(t, traces[0].Slow)
}

func TestGlobalTrackWithoutInitIsNoop(t *testing.T) {
	Close()
	tr := Track("nothing")
	tr.Mark("step")
	tr.Finish()
	assert.Empty(t, tr.Steps)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	err error
}

func (s staticSource) Frame() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "data:image/png;base64,AA", nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingSink) SendFrame(dataURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, dataURL)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	frame, err := FileSource{Path: path}.Frame()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(frame, "data:image/png;base64,"))
	assert.Equal(t, "data:image/png;base64,iVBORw==", frame)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.png")}.Frame()
	assert.Error(t, err)
}

func TestStreamer_StartStop(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreamer(staticSource{}, sink)
	s.UpdateSettings(protocol.CaptureSettings{FPS: MaxFPS})

	s.StartCapture("req-1")
	assert.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 10*time.Millisecond)

	stats := s.Stats()
	assert.True(t, stats.Streaming)
	assert.Equal(t, "req-1", stats.RequestID)

	s.StopCapture()
	assert.False(t, s.Stats().Streaming)

	// allow an in-flight tick to land, then make sure nothing else arrives
	time.Sleep(100 * time.Millisecond)
	n := sink.count()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, sink.count())
}

func TestStreamer_StopWithoutStart(t *testing.T) {
	s := NewStreamer(staticSource{}, &recordingSink{})
	s.StopCapture()
	s.Stop()
	assert.False(t, s.Stats().Streaming)
}

func TestStreamer_SourceErrorsCounted(t *testing.T) {
	s := NewStreamer(staticSource{err: errors.New("no screen")}, &recordingSink{})
	s.UpdateSettings(protocol.CaptureSettings{FPS: MaxFPS})
	s.StartCapture("req-1")
	t.Cleanup(s.Stop)

	assert.Eventually(t, func() bool { return s.Stats().Errors >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.Stats().Frames)
}

func TestClampFPS(t *testing.T) {
	assert.Equal(t, DefaultFPS, clampFPS(0))
	assert.Equal(t, DefaultFPS, clampFPS(-4))
	assert.Equal(t, 5, clampFPS(5))
	assert.Equal(t, MaxFPS, clampFPS(500))
	assert.Equal(t, 100*time.Millisecond, interval(0))
}

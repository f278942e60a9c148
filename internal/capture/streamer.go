package capture

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/EternisAI/silo-relay/internal/protocol"
)

const (
	DefaultFPS = 10
	MaxFPS     = 30
)

// Source produces one encoded frame as a data URL.
type Source interface {
	Frame() (string, error)
}

// Sink delivers a frame to the relay.
type Sink interface {
	SendFrame(dataURL string) error
}

// FileSource serves the same image file for every frame. The file is re-read
// on each call so it can be replaced while streaming.
type FileSource struct {
	Path string
}

func (s FileSource) Frame() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read frame image: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(s.Path))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

type Stats struct {
	RequestID string
	Streaming bool
	Frames    uint64
	Errors    uint64
	FPS       int
}

// Streamer sends frames from a Source at the viewer's requested rate between
// a start-capture and the matching stop.
type Streamer struct {
	source Source
	sink   Sink

	mu        sync.Mutex
	settings  protocol.CaptureSettings
	requestID string
	stopCh    chan struct{}
	frames    uint64
	errors    uint64
}

func NewStreamer(source Source, sink Sink) *Streamer {
	return &Streamer{
		source:   source,
		sink:     sink,
		settings: protocol.CaptureSettings{FPS: DefaultFPS},
	}
}

// SetSink replaces the frame destination. Used when the sink is built after
// the streamer.
func (s *Streamer) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Streamer) ViewerJoined(viewer string) {
	slog.Info("Viewer joined", "viewer", viewer)
}

func (s *Streamer) StartCapture(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.requestID = requestID
	s.stopCh = make(chan struct{})
	go s.loop(s.stopCh, interval(s.settings.FPS))

	slog.Info("Capture started", "request_id", requestID, "fps", clampFPS(s.settings.FPS))
}

func (s *Streamer) UpdateSettings(settings protocol.CaptureSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	slog.Info("Capture settings updated",
		"width", settings.Width,
		"height", settings.Height,
		"fps", clampFPS(settings.FPS))

	// restart the loop at the new rate
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = make(chan struct{})
		go s.loop(s.stopCh, interval(settings.FPS))
	}
}

func (s *Streamer) StopCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh == nil {
		return
	}
	s.stopLocked()
	slog.Info("Capture stopped", "request_id", s.requestID, "frames", s.frames, "errors", s.errors)
}

// Stop ends any running capture.
func (s *Streamer) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		RequestID: s.requestID,
		Streaming: s.stopCh != nil,
		Frames:    s.frames,
		Errors:    s.errors,
		FPS:       clampFPS(s.settings.FPS),
	}
}

func (s *Streamer) stopLocked() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

func (s *Streamer) loop(stop <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sendOne()
		}
	}
}

func (s *Streamer) sendOne() {
	frame, err := s.source.Frame()
	if err == nil {
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink == nil {
			err = fmt.Errorf("no frame sink")
		} else {
			err = sink.SendFrame(frame)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		// first failure and every hundredth after it
		if s.errors%100 == 1 {
			slog.Warn("Failed to send frame", "error", err, "errors", s.errors)
		}
		return
	}
	s.frames++
}

func clampFPS(fps int) int {
	switch {
	case fps <= 0:
		return DefaultFPS
	case fps > MaxFPS:
		return MaxFPS
	default:
		return fps
	}
}

func interval(fps int) time.Duration {
	return time.Second / time.Duration(clampFPS(fps))
}

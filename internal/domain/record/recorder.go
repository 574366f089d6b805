package record

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"argus-vision-server/internal/domain/eventbus"
	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

var (
	// ErrAlreadyRecording is returned when a session is already running.
	ErrAlreadyRecording = errors.New("record: recording already in progress")

	// ErrNotRecording is returned when there is no session to stop.
	ErrNotRecording = errors.New("record: no recording in progress")

	// ErrDisabled is returned when recording is switched off in config.
	ErrDisabled = errors.New("record: recording disabled")
)

// CaptureFunc runs one capture session until the stop channel closes and
// returns the path of the finished video file.
type CaptureFunc func(cfg config.RecordConfig, logger *utils.Logger, stop <-chan struct{}) (string, error)

// Session describes one finished capture run.
type Session struct {
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Path      string    `json:"path,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Status is a point-in-time view of the recorder.
type Status struct {
	Active    bool     `json:"active"`
	StartedAt string   `json:"started_at,omitempty"`
	ElapsedMS float64  `json:"elapsed_ms,omitempty"`
	Last      *Session `json:"last,omitempty"`
}

// Recorder 双摄像头录制器
//
// At most one capture session runs at a time. Start spawns the session in
// the background and returns immediately; Stop only signals, the session
// finalizes on its own and flips the active flag back.
type Recorder struct {
	cfg     config.RecordConfig
	logger  *utils.Logger
	capture CaptureFunc

	active atomic.Bool
	wg     sync.WaitGroup

	mu        sync.Mutex
	stop      chan struct{}
	startedAt time.Time
	last      *Session
}

// NewRecorder 创建录制器，使用编译期选定的采集后端
func NewRecorder(cfg config.RecordConfig, logger *utils.Logger) *Recorder {
	return NewRecorderWithCapture(cfg, logger, captureDual)
}

// NewRecorderWithCapture injects the capture backend, mainly for tests.
func NewRecorderWithCapture(cfg config.RecordConfig, logger *utils.Logger, capture CaptureFunc) *Recorder {
	return &Recorder{
		cfg:     cfg,
		logger:  logger,
		capture: capture,
	}
}

// Start begins a background capture session. A second Start while one is
// running fails with ErrAlreadyRecording.
func (r *Recorder) Start() error {
	if !r.cfg.Enabled {
		return ErrDisabled
	}
	if !r.active.CompareAndSwap(false, true) {
		return ErrAlreadyRecording
	}

	r.mu.Lock()
	r.stop = make(chan struct{})
	r.startedAt = time.Now()
	stop := r.stop
	r.mu.Unlock()

	r.logger.InfoTag("RECORD", "recording started: cameras %v", r.cfg.Cameras)
	eventbus.PublishAsync(eventbus.EventRecordStarted, eventbus.RecordEventData{
		Cameras: r.cfg.Cameras,
	})

	r.wg.Add(1)
	go r.runSession(stop)
	return nil
}

func (r *Recorder) runSession(stop <-chan struct{}) {
	defer r.wg.Done()

	started := time.Now()
	path, err := r.capture(r.cfg, r.logger, stop)
	ended := time.Now()

	session := &Session{StartedAt: started, EndedAt: ended, Path: path}
	if err != nil {
		session.Err = err.Error()
		r.logger.ErrorTag("RECORD", "recording session failed: %v", err)
		eventbus.PublishAsync(eventbus.EventRecordError, eventbus.RecordEventData{
			Error:     err.Error(),
			ElapsedMS: float64(ended.Sub(started).Microseconds()) / 1000.0,
		})
	} else {
		r.logger.InfoTag("RECORD", "recording saved to %s", path)
		eventbus.PublishAsync(eventbus.EventRecordStopped, eventbus.RecordEventData{
			Path:      path,
			ElapsedMS: float64(ended.Sub(started).Microseconds()) / 1000.0,
		})
	}

	r.mu.Lock()
	r.last = session
	r.stop = nil
	r.mu.Unlock()
	r.active.Store(false)
}

// Stop signals the running session to finalize. The session keeps running
// briefly while it closes the writer and re-encodes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop == nil {
		return ErrNotRecording
	}
	close(r.stop)
	r.stop = nil
	r.logger.InfoTag("RECORD", "stop requested")
	return nil
}

// Status 获取录制状态
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{Active: r.active.Load(), Last: r.last}
	if st.Active {
		st.StartedAt = r.startedAt.Format(time.RFC3339)
		st.ElapsedMS = float64(time.Since(r.startedAt).Microseconds()) / 1000.0
	}
	return st
}

// Close stops any running session and waits for it to finish.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// resolveSaveDir expands a leading "~" against the user's home directory
// and creates the directory when missing.
func resolveSaveDir(dir string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir[1:], "/"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

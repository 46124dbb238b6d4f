// Package recorder drives the attendance capture flow:
//
//	Idle -> Capturing -> {Recognized, Unrecognized} -> Committed
//
// Unrecognized returns to Idle on an explicit retry; Committed is
// terminal. Every transition into a capturing state has exactly one
// matching capture release on every exit path, including cancellation.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"faceattend/internal/apperrors"
	"faceattend/internal/attendance"
	"faceattend/internal/capture"
	"faceattend/internal/faceclient"
	"faceattend/internal/identity"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
)

// State of a recognition flow.
type State string

const (
	StateIdle         State = "idle"
	StateCapturing    State = "capturing"
	StateRecognized   State = "recognized"
	StateUnrecognized State = "unrecognized"
	StateCommitted    State = "committed"
)

// Recognizer is the external recognition capability.
type Recognizer interface {
	DetectAndDescribe(ctx context.Context, frame []byte) ([]faceclient.Detection, error)
	BestMatch(ctx context.Context, descriptor []float32, label string) (faceclient.Match, error)
}

// Config tunes the flow's timers.
type Config struct {
	// SampleInterval throttles recognition: frames may arrive far
	// faster, only the latest is examined each interval.
	SampleInterval time.Duration
	CountdownTick  time.Duration
	CountdownTicks int
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Second
	}
	if c.CountdownTick <= 0 {
		c.CountdownTick = time.Second
	}
	if c.CountdownTicks <= 0 {
		c.CountdownTicks = 3
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Snapshot is a point-in-time view for handlers.
type Snapshot struct {
	State   State              `json:"state"`
	Counter int                `json:"counter"`
	Reason  *apperrors.Error   `json:"reason,omitempty"`
	Record  *attendance.Record `json:"record,omitempty"`
}

// Recorder is one user's recognition flow. Transitions are serialized by
// the mutex; the sampling and countdown timers are owned by the instance
// and stopped before any transition that changes capturing state.
type Recorder struct {
	user    identity.PublicUser
	source  capture.Source
	rec     Recognizer
	records attendance.Store
	q       queue.Queue
	log     *zap.Logger
	cfg     Config

	mu         sync.Mutex
	state      State
	stream     *capture.Stream
	counter    int
	reason     *apperrors.Error
	record     *attendance.Record
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// New builds an idle recorder. The queue is optional.
func New(user identity.PublicUser, source capture.Source, rec Recognizer, records attendance.Store, q queue.Queue, log *zap.Logger, cfg Config) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		user:    user,
		source:  source,
		rec:     rec,
		records: records,
		q:       q,
		log:     log,
		cfg:     cfg.withDefaults(),
		state:   StateIdle,
	}
}

// Start acquires the capture stream and begins sampling. Acquisition
// failure does not block: the flow lands in Unrecognized with a
// capture-failure reason and a retry affordance.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return apperrors.Clone(apperrors.ErrConflict, "recognition flow already started")
	}

	stream, err := r.source.Acquire(ctx)
	if err != nil {
		r.state = StateUnrecognized
		r.reason = captureFailure(err)
		r.observe(StateUnrecognized)
		metrics.RecognitionFailures.WithLabelValues(r.reason.Code).Inc()
		return nil
	}

	r.stream = stream
	r.state = StateCapturing
	r.observe(StateCapturing)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancelLoop = cancel
	r.loopDone = done
	go r.loop(loopCtx, done)
	return nil
}

// PushFrame feeds a frame into the held capture stream.
func (r *Recorder) PushFrame(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil || (r.state != StateCapturing && r.state != StateRecognized) {
		return apperrors.Clone(apperrors.ErrConflict, "no active capture")
	}
	if err := r.stream.Push(frame); err != nil {
		return apperrors.Clone(apperrors.ErrConflict, "capture released")
	}
	return nil
}

// Retry resets a failed attempt back to Idle. Capture was already
// released on the way into Unrecognized.
func (r *Recorder) Retry() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateUnrecognized {
		return apperrors.Clone(apperrors.ErrConflict, "nothing to retry")
	}
	r.reason = nil
	r.counter = 0
	r.state = StateIdle
	r.cancelLoop = nil
	r.loopDone = nil
	r.observe(StateIdle)
	return nil
}

// Cancel tears the flow down: timers cleared, capture released, whatever
// state it was in. Safe to call more than once.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	if r.cancelLoop != nil {
		r.cancelLoop()
		r.cancelLoop = nil
	}
	done := r.loopDone
	if r.state == StateCapturing || r.state == StateRecognized {
		r.state = StateIdle
	}
	r.releaseLocked()
	r.counter = 0
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Snapshot returns the current state for display.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{State: r.state, Counter: r.counter, Reason: r.reason, Record: r.record}
}

// User returns the identity bound to the flow.
func (r *Recorder) User() identity.PublicUser { return r.user }

func (r *Recorder) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if !r.sample(ctx) {
		return
	}
	r.countdown(ctx)
}

// sample polls the latest frame each interval until the flow leaves
// Capturing. Returns true when the face was recognized.
func (r *Recorder) sample(ctx context.Context) bool {
	ticker := time.NewTicker(r.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			frame, ok := r.currentFrame()
			if !ok {
				continue
			}

			dets, err := r.rec.DetectAndDescribe(ctx, frame)
			if err != nil {
				ticker.Stop()
				r.fail(apperrors.Wrap(err, apperrors.ErrRecognitionDown.Code, apperrors.ErrRecognitionDown.Status, apperrors.ErrRecognitionDown.Message))
				return false
			}
			if len(dets) == 0 {
				ticker.Stop()
				r.fail(apperrors.Clone(apperrors.ErrNoFaceDetected, ""))
				return false
			}

			m, err := r.rec.BestMatch(ctx, dets[0].Descriptor, r.user.ID)
			if err != nil {
				ticker.Stop()
				r.fail(apperrors.Wrap(err, apperrors.ErrRecognitionDown.Code, apperrors.ErrRecognitionDown.Status, apperrors.ErrRecognitionDown.Message))
				return false
			}
			// Strict identity matching: the detected face must be the
			// signed-in user, not merely some face.
			if !m.Matched || m.Label != r.user.ID {
				ticker.Stop()
				r.fail(apperrors.Clone(apperrors.ErrFaceMismatch, ""))
				return false
			}

			ticker.Stop()
			r.mu.Lock()
			if r.state != StateCapturing {
				r.mu.Unlock()
				return false
			}
			r.state = StateRecognized
			r.counter = r.cfg.CountdownTicks
			r.observe(StateRecognized)
			r.mu.Unlock()
			return true
		}
	}
}

// countdown holds the capture open while the UI shows confirmation, then
// commits on tick zero.
func (r *Recorder) countdown(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CountdownTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.state != StateRecognized {
				r.mu.Unlock()
				return
			}
			r.counter--
			if r.counter > 0 {
				r.mu.Unlock()
				continue
			}
			ticker.Stop()
			r.commitLocked(ctx)
			r.mu.Unlock()
			return
		}
	}
}

// commitLocked releases the capture exactly once, appends the record, and
// publishes the committed event. Called with the mutex held.
func (r *Recorder) commitLocked(ctx context.Context) {
	r.releaseLocked()

	rec, err := attendance.NewRecord(r.user, r.cfg.Now())
	if err == nil {
		rec, _, err = r.records.Append(ctx, rec)
	}
	if err != nil {
		// Write failures surface as a retryable failed attempt.
		r.state = StateUnrecognized
		r.reason = apperrors.FromError(err)
		r.observe(StateUnrecognized)
		metrics.RecognitionFailures.WithLabelValues(r.reason.Code).Inc()
		r.log.Error("commit attendance record", zap.Error(err))
		return
	}

	r.record = &rec
	r.state = StateCommitted
	r.observe(StateCommitted)
	metrics.RecordsCommitted.Inc()
	r.log.Info("attendance committed",
		zap.String("record_id", rec.ID),
		zap.String("roll_number", rec.RollNumber),
		zap.String("date", rec.Date),
	)

	if r.q != nil {
		msg, merr := queue.NewCommitted(queue.CommittedEvent{RecordID: rec.ID, UserID: rec.UserID, Date: rec.Date})
		if merr == nil {
			if perr := r.q.Publish(ctx, msg); perr != nil {
				r.log.Warn("queue publish failed", zap.Error(perr))
			}
		}
	}
}

// fail moves Capturing to Unrecognized, releasing the capture.
func (r *Recorder) fail(reason *apperrors.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing {
		return
	}
	r.releaseLocked()
	r.state = StateUnrecognized
	r.reason = reason
	r.observe(StateUnrecognized)
	metrics.RecognitionFailures.WithLabelValues(reason.Code).Inc()
}

// releaseLocked releases the held stream at most once.
func (r *Recorder) releaseLocked() {
	if r.stream != nil {
		if err := r.stream.Release(); err != nil && !errors.Is(err, capture.ErrReleased) {
			r.log.Warn("capture release failed", zap.Error(err))
		}
		r.stream = nil
	}
}

func (r *Recorder) observe(s State) {
	metrics.RecorderTransitions.WithLabelValues(string(s)).Inc()
}

func (r *Recorder) currentFrame() ([]byte, bool) {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil {
		return nil, false
	}
	return stream.Latest()
}

func captureFailure(err error) *apperrors.Error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrPermissionDenied.Code, apperrors.ErrDeviceUnavailable.Code:
			return appErr
		}
	}
	return apperrors.Wrap(err, apperrors.ErrDeviceUnavailable.Code, apperrors.ErrDeviceUnavailable.Status, apperrors.ErrDeviceUnavailable.Message)
}

package downloader

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/sgdl/internal/logctx"
	"github.com/italolelis/sgdl/internal/media"
	"github.com/italolelis/sgdl/internal/progress"
	"github.com/italolelis/sgdl/internal/storage"
	"github.com/italolelis/sgdl/internal/telemetry"
	"github.com/italolelis/sgdl/internal/transfer"
	"github.com/italolelis/sgdl/internal/verify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrNotInFlight is returned by AbortDownload when the pointer is neither queued nor running.
	ErrNotInFlight = errors.New("downloader: download not in flight")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("downloader: manager closed")
	// ErrNotStarted is returned when commands are sent before Start.
	ErrNotStarted = errors.New("downloader: manager not started")
)

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	// MaxParallel caps the number of running transfers. Further requests wait in FIFO order.
	MaxParallel int
	ChunkSize   int
	// RateLimit caps the combined transfer rate in bytes per second. Zero disables it.
	RateLimit           int64
	ProgressQueueSize   int
	ProgressSendTimeout time.Duration
	// EventBuffer sizes the Events channel. Events are dropped when it is full.
	EventBuffer int
	// SinkTimeout bounds how long a terminal update waits for a caller's sink.
	SinkTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxParallel < 1 {
		o.MaxParallel = 4
	}

	if o.ChunkSize < 1 {
		o.ChunkSize = transfer.DefaultChunkSize
	}

	if o.ProgressQueueSize < 1 {
		o.ProgressQueueSize = 32
	}

	if o.ProgressSendTimeout <= 0 {
		o.ProgressSendTimeout = 100 * time.Millisecond
	}

	if o.EventBuffer < 1 {
		o.EventBuffer = 64
	}

	if o.SinkTimeout <= 0 {
		o.SinkTimeout = 5 * time.Second
	}

	return o
}

// Event announces that a pointer reached a terminal state.
type Event struct {
	Pointer       media.Pointer
	State         progress.State
	Progress      progress.Progress
	ContentHash   string
	ContentLength int64
	Err           error
	// Skipped is set when an already verified file satisfied the request.
	Skipped bool
}

// Manager owns every transfer of the process. A single loop goroutine owns the
// bookkeeping; callers talk to it through commands and read progress from an atomically
// published snapshot.
type Manager struct {
	fetcher   transfer.Fetcher
	store     storage.LibraryStore
	verifier  *verify.Verifier
	telemetry *telemetry.Telemetry
	opts      Options
	limiter   *rate.Limiter

	queue    *progress.Queue
	commands chan command
	events   chan Event
	snapshot atomic.Pointer[map[string]progress.Status]

	group    errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	started   atomic.Bool
	closeOnce sync.Once
}

// New creates a Manager. The fetcher is the process-wide HTTP client; it is owned by the
// caller and shared by every transfer.
func New(fetcher transfer.Fetcher, store storage.LibraryStore, verifier *verify.Verifier, tel *telemetry.Telemetry, opts Options) *Manager {
	opts = opts.withDefaults()

	m := &Manager{
		fetcher:   fetcher,
		store:     store,
		verifier:  verifier,
		telemetry: tel,
		opts:      opts,
		commands:  make(chan command),
		events:    make(chan Event, opts.EventBuffer),
		loopDone:  make(chan struct{}),
	}

	m.queue = progress.NewQueue(opts.ProgressQueueSize, opts.ProgressSendTimeout,
		progress.WithDropHook(func(progress.Update) {
			tel.RecordProgressDropped(context.Background())
		}),
	)

	if opts.RateLimit > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.ChunkSize)
	}

	m.group.SetLimit(opts.MaxParallel)

	empty := map[string]progress.Status{}
	m.snapshot.Store(&empty)

	return m
}

// Start launches the loop. Transfers inherit ctx (and its logger); cancelling it has the
// same effect as Close.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download manager started",
		"max_parallel", m.opts.MaxParallel,
		"chunk_size", m.opts.ChunkSize,
		"rate_limit", m.opts.RateLimit,
	)

	go m.loop()
}

// Close aborts queued and running transfers, waits for every task to report and stops
// the loop. Partial files are kept.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.started.Load() {
			m.cancel()
			<-m.loopDone
		}

		m.queue.Close()
		_ = m.group.Wait()

		close(m.events)
	})

	return nil
}

// Events delivers terminal events. The channel is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Progress returns a snapshot of every known pointer. It never blocks.
func (m *Manager) Progress() map[string]progress.Status {
	return maps.Clone(*m.snapshot.Load())
}

// StartDownload schedules p unless it is already queued, running or completed in this
// process, in which case it returns false. Failed and aborted pointers are restarted and
// resume from their partial file. A pointer whose verified copy is only known to the store
// is still scheduled (true): its worker re-verifies the file and completes with
// Event.Skipped set, without network I/O, so the caller never waits on that hash. If sink is non-nil it receives this pointer's updates: intermediate ones
// are dropped when sink is not ready, the terminal one waits up to SinkTimeout.
func (m *Manager) StartDownload(ctx context.Context, p media.Pointer, sink chan<- progress.Update) (bool, error) {
	if p.ID == "" {
		return false, fmt.Errorf("failed to start download: %w", media.ErrUnresolved)
	}

	reply := make(chan startReply, 1)

	if err := m.send(ctx, startCommand{pointer: p, sink: sink, reply: reply}); err != nil {
		return false, err
	}

	select {
	case r := <-reply:
		return r.started, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// AbortDownload cancels the transfer of id. A queued request is aborted at once; a running
// one stops before its next chunk and leaves the in-flight set when the task reports.
func (m *Manager) AbortDownload(ctx context.Context, id string) error {
	reply := make(chan error, 1)

	if err := m.send(ctx, abortCommand{id: id, reply: reply}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Verify re-checks the stored file of id against its record.
func (m *Manager) Verify(ctx context.Context, id string) (verify.Result, error) {
	rec, err := m.store.GetBlob(ctx, id)
	if err != nil {
		return verify.Result{}, fmt.Errorf("failed to load record: %w", err)
	}

	return m.verifier.Verify(ctx, verify.Blob{
		Path:          rec.LocalPath,
		ContentHash:   rec.ContentHash,
		ContentLength: rec.ContentLength,
	}), nil
}

func (m *Manager) send(ctx context.Context, cmd command) error {
	if !m.started.Load() {
		return ErrNotStarted
	}

	select {
	case m.commands <- cmd:
		return nil
	case <-m.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type command interface {
	isCommand()
}

type startCommand struct {
	pointer media.Pointer
	sink    chan<- progress.Update
	reply   chan<- startReply
}

type startReply struct {
	started bool
	err     error
}

type abortCommand struct {
	id    string
	reply chan<- error
}

func (startCommand) isCommand() {}
func (abortCommand) isCommand() {}

// entry is the loop's view of one pointer.
type entry struct {
	pointer   media.Pointer
	status    progress.Status
	sink      chan<- progress.Update
	cancel    context.CancelFunc
	running   bool
	seen      bool
	startedAt time.Time
}

// state is owned by the loop goroutine.
type state struct {
	entries  map[string]*entry
	pending  []string
	running  int
	stopping bool
}

func (m *Manager) loop() {
	defer close(m.loopDone)

	ctx := m.ctx
	logger := logctx.LoggerFromContext(ctx)
	s := &state{entries: make(map[string]*entry)}
	done := ctx.Done()

	for {
		if s.stopping && s.running == 0 {
			logger.InfoContext(ctx, "download manager stopped")

			return
		}

		select {
		case <-done:
			done = nil
			s.stopping = true

			logger.InfoContext(ctx, "shutting down download manager", "running", s.running, "queued", len(s.pending))

			for _, id := range s.pending {
				m.finishQueued(ctx, s, s.entries[id])
			}

			s.pending = nil
			m.publish(s)
		case cmd := <-m.commands:
			m.handle(ctx, s, cmd)
		case u := <-m.queue.Updates():
			m.apply(ctx, s, u)
			m.publish(s)
		}
	}
}

// handle publishes before replying so callers observe their own command in Progress.
func (m *Manager) handle(ctx context.Context, s *state, cmd command) {
	switch c := cmd.(type) {
	case startCommand:
		started, err := m.enqueue(ctx, s, c)
		m.publish(s)
		c.reply <- startReply{started: started, err: err}
	case abortCommand:
		err := m.abort(ctx, s, c.id)
		m.publish(s)
		c.reply <- err
	}
}

func (m *Manager) enqueue(ctx context.Context, s *state, c startCommand) (bool, error) {
	if s.stopping {
		return false, ErrClosed
	}

	logger := logctx.LoggerFromContext(ctx).With("pointer_id", c.pointer.ID)

	if e, ok := s.entries[c.pointer.ID]; ok {
		switch e.status.State {
		case progress.StateNotStarted, progress.StateInProgress, progress.StateCompleted:
			logger.DebugContext(ctx, "download request ignored", "state", e.status.State)

			return false, nil
		}
	}

	s.entries[c.pointer.ID] = &entry{
		pointer: c.pointer,
		status:  progress.Status{State: progress.StateNotStarted},
		sink:    c.sink,
	}
	s.pending = append(s.pending, c.pointer.ID)

	logger.InfoContext(ctx, "download queued", "target", c.pointer.TargetPath, "queued", len(s.pending), "running", s.running)

	m.dispatch(ctx, s)

	return true, nil
}

// dispatch starts queued requests while slots are free.
func (m *Manager) dispatch(ctx context.Context, s *state) {
	for s.running < m.opts.MaxParallel && len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]

		e := s.entries[id]

		taskCtx, cancel := context.WithCancel(ctx)

		e.cancel = cancel
		e.running = true
		e.startedAt = time.Now()
		e.status.State = progress.StateInProgress
		s.running++

		p := e.pointer
		m.group.Go(func() error {
			defer cancel()

			m.runTask(taskCtx, p)

			return nil
		})
	}
}

func (m *Manager) abort(ctx context.Context, s *state, id string) error {
	e, ok := s.entries[id]
	if !ok || !e.status.State.IsActive() {
		return ErrNotInFlight
	}

	logger := logctx.LoggerFromContext(ctx)

	if !e.running {
		for i, pid := range s.pending {
			if pid == id {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)

				break
			}
		}

		logger.InfoContext(ctx, "queued download aborted", "pointer_id", id)
		m.finishQueued(ctx, s, e)

		return nil
	}

	logger.InfoContext(ctx, "aborting download", "pointer_id", id)
	e.cancel()

	return nil
}

func (m *Manager) finishQueued(ctx context.Context, s *state, e *entry) {
	e.status.State = progress.StateAborted
	e.status.Error = context.Canceled.Error()

	m.finish(ctx, e, progress.Update{
		PointerID: e.pointer.ID,
		Progress:  e.status.Progress,
		State:     progress.StateAborted,
		Err:       context.Canceled,
	})
}

// apply folds a task update into the entry it belongs to.
func (m *Manager) apply(ctx context.Context, s *state, u progress.Update) {
	e, ok := s.entries[u.PointerID]
	if !ok || !e.running {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "update for unknown transfer dropped", "pointer_id", u.PointerID, "state", u.State)

		return
	}

	if !u.State.IsTerminal() {
		if e.seen && u.Progress.BytesDownloaded > e.status.BytesDownloaded {
			m.telemetry.RecordBytesDownloaded(ctx, int64(u.Progress.BytesDownloaded-e.status.BytesDownloaded))
		}

		e.seen = true
		e.status.Progress = u.Progress
		e.status.State = progress.StateInProgress

		if e.sink != nil {
			select {
			case e.sink <- u:
			default:
			}
		}

		return
	}

	e.running = false
	e.cancel = nil
	e.seen = false
	s.running--

	e.status.Progress = u.Progress
	e.status.State = u.State
	e.status.Error = ""

	if u.Err != nil {
		e.status.Error = u.Err.Error()
	}

	m.finish(ctx, e, u)

	if !s.stopping {
		m.dispatch(ctx, s)
	}
}

// finish hands the terminal update to the caller's sink and the event stream.
func (m *Manager) finish(ctx context.Context, e *entry, u progress.Update) {
	logger := logctx.LoggerFromContext(ctx)

	if sink := e.sink; sink != nil {
		e.sink = nil

		go func() {
			timer := time.NewTimer(m.opts.SinkTimeout)
			defer timer.Stop()

			select {
			case sink <- u:
			case <-timer.C:
				logger.WarnContext(ctx, "terminal update not accepted by sink", "pointer_id", u.PointerID, "state", u.State)
			}
		}()
	}

	ev := Event{
		Pointer:       e.pointer,
		State:         u.State,
		Progress:      u.Progress,
		ContentHash:   u.ContentHash,
		ContentLength: u.ContentLength,
		Err:           u.Err,
		Skipped:       u.Skipped,
	}

	select {
	case m.events <- ev:
	default:
		logger.WarnContext(ctx, "event dropped", "pointer_id", u.PointerID, "state", u.State)
	}
}

func (m *Manager) publish(s *state) {
	snap := make(map[string]progress.Status, len(s.entries))
	for id, e := range s.entries {
		snap[id] = e.status
	}

	m.snapshot.Store(&snap)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/message"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

var (
	// ErrNotArray is returned by array operators fed a non slice payload.
	ErrNotArray = errors.New("payload is not an array")

	// ErrInvalidChunkSize is recorded when a chunk size below one is
	// configured.
	ErrInvalidChunkSize = errors.New("max chunk size must be >= 1")

	// ErrUnknownOperator is recorded when Use names an operator that was
	// never registered or passes arguments of the wrong type.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrNoSource is returned by Start when no entry point was configured.
	ErrNoSource = errors.New("task has no entry point")

	// ErrClosed is returned when a closed task is asked to process a message.
	ErrClosed = errors.New("task closed")
)

// Emit hands a message to the next stage. It returns once that message and
// everything emitted from it drained.
type Emit func(ctx context.Context, msg *message.Message) error

// Handler is the logic of one stage. It may call emit zero or more times.
type Handler func(ctx context.Context, msg *message.Message, emit Emit) error

// Stage is one step of a task.
type Stage struct {
	index   int
	name    string
	handler Handler
}

// Index is the position of the stage in its task.
func (s *Stage) Index() int {
	return s.index
}

// Name is the operator name the stage was built from.
func (s *Stage) Name() string {
	return s.name
}

// StageError wraps the first error a stage returned with its position.
type StageError struct {
	Task  string
	Index int
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("task %s: stage %d (%s): %v", e.Task, e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// lifecycle is shared by a task and its branches.
type lifecycle struct {
	mu      sync.Mutex
	err     error
	closed  bool
	closers []func() error

	// in flight Run calls
	running sync.WaitGroup
}

// Task is an ordered chain of stages. Builder methods append a stage and
// return the task, stages must not be added once messages flow.
type Task struct {
	name    string
	logger  zerolog.Logger
	limiter *rate.Limiter
	source  Source

	stages []*Stage

	// receives what the last stage emits; nil drops it
	tail Emit

	life *lifecycle
}

type Option func(*Task)

// WithName names the task in logs, metrics and errors.
func WithName(name string) Option {
	return func(t *Task) {
		t.name = name
	}
}

// WithLogger sets the logger of the task and its stages.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Task) {
		t.logger = l
	}
}

// WithRateLimit bounds the number of entry point items Start injects per
// second.
func WithRateLimit(perSecond int) Option {
	return func(t *Task) {
		if perSecond > 0 {
			t.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// New creates an empty task.
func New(opts ...Option) *Task {
	t := &Task{
		name:   "task",
		logger: logger.AdHocLogger,
		life:   &lifecycle{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logger.Component(t.logger, "pipeline").With().Str("task", t.name).Logger()
	return t
}

func (t *Task) Name() string {
	return t.name
}

// Stages lists the stages in chain order.
func (t *Task) Stages() []*Stage {
	return append([]*Stage(nil), t.stages...)
}

// AppendStage adds a stage at the end of the chain.
func (t *Task) AppendStage(name string, h Handler) *Task {
	t.stages = append(t.stages, &Stage{index: len(t.stages), name: name, handler: h})
	return t
}

// nextIndex is the index the next appended stage receives.
func (t *Task) nextIndex() int {
	return len(t.stages)
}

// fail records a configuration error. The first one wins and is reported
// by Run, Start and Err.
func (t *Task) fail(err error) *Task {
	t.life.mu.Lock()
	defer t.life.mu.Unlock()
	if t.life.err == nil {
		t.life.err = err
	}
	t.logger.Error().Err(err).Msg("invalid task configuration")
	return t
}

// Err returns the first configuration error.
func (t *Task) Err() error {
	t.life.mu.Lock()
	defer t.life.mu.Unlock()
	return t.life.err
}

// OnClose registers fn to run when the task closes, in reverse order of
// registration.
func (t *Task) OnClose(fn func() error) *Task {
	t.life.mu.Lock()
	defer t.life.mu.Unlock()
	t.life.closers = append(t.life.closers, fn)
	return t
}

// emitAt returns the continuation targeting stage i.
func (t *Task) emitAt(i int) Emit {
	return func(ctx context.Context, msg *message.Message) error {
		return t.forward(ctx, i, msg)
	}
}

func (t *Task) forward(ctx context.Context, i int, msg *message.Message) error {
	if i >= len(t.stages) {
		if t.tail != nil {
			return t.tail(ctx, msg)
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := t.stages[i]
	stageMessages.WithLabelValues(t.name, s.name).Inc()
	t.logger.Trace().Int("stage", s.index).Str("op", s.name).Str("msg", msg.ID.String()).Msg("handling message")

	err := s.handler(ctx, msg, t.emitAt(i+1))
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	stageErrors.WithLabelValues(t.name, s.name).Inc()
	return &StageError{Task: t.name, Index: s.index, Stage: s.name, Err: err}
}

func (t *Task) begin() error {
	t.life.mu.Lock()
	defer t.life.mu.Unlock()
	if t.life.err != nil {
		return t.life.err
	}
	if t.life.closed {
		return ErrClosed
	}
	t.life.running.Add(1)
	return nil
}

// Run drives msg through the chain and returns once it and every message
// emitted from it drained. The first stage error aborts the message and is
// returned.
func (t *Task) Run(ctx context.Context, msg *message.Message) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.life.running.Done()
	return t.forward(ctx, 0, msg)
}

// Inject wraps payload in a fresh message with its own global state and
// runs it.
func (t *Task) Inject(ctx context.Context, payload any) error {
	return t.Run(ctx, message.New(payload, nil, message.GlobalState{}))
}

// Start runs every item the configured entry point produces, one after the
// other, and returns when the entry point is exhausted or an item fails.
func (t *Task) Start(ctx context.Context) error {
	if err := t.Err(); err != nil {
		return err
	}
	if t.source == nil {
		return ErrNoSource
	}
	t.logger.Info().Msg("starting task")

	err := t.source.Produce(ctx, func(ctx context.Context, msg *message.Message) error {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return t.Run(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("task %s: %w", t.name, err)
	}
	t.logger.Info().Msg("entry point exhausted")
	return nil
}

// Close rejects new messages, waits for running ones and releases what the
// stages registered: inactivity timers, sinks, storage. Close must not be
// called from a stage.
func (t *Task) Close() error {
	t.life.mu.Lock()
	if t.life.closed {
		t.life.mu.Unlock()
		return nil
	}
	t.life.closed = true
	closers := t.life.closers
	t.life.closers = nil
	t.life.mu.Unlock()

	t.life.running.Wait()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i]())
	}
	t.logger.Info().Err(err).Msg("task closed")
	return err
}

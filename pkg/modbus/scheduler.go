package modbus

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"harnspoller/pkg/metrics"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/utils/uuidutil"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"sort"
	"sync"
	"time"
)

const DefaultPollWorkers = 10

var ErrSchedulerClosed = errors.New("Poll scheduler is closed")

// PollTask is a read executed against one endpoint.
type PollTask struct {
	Endpoint endpoint.Endpoint
	Request  ReadRequest
	Callback ReadCallback
}

// TaskKey identifies a poll task. Two tasks with the same key replace each
// other when registered.
type TaskKey struct {
	Endpoint  endpoint.Key
	UnitID    uint8
	Function  ReadFunction
	Reference uint16
	Length    uint16
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s/%d/%s/%d+%d", k.Endpoint, k.UnitID, k.Function, k.Reference, k.Length)
}

func (t PollTask) Key() TaskKey {
	var ek endpoint.Key
	if t.Endpoint != nil {
		ek = t.Endpoint.Key()
	}
	return TaskKey{
		Endpoint:  ek,
		UnitID:    t.Request.UnitID,
		Function:  t.Request.Function,
		Reference: t.Request.Reference,
		Length:    t.Request.Length,
	}
}

func (t PollTask) Validate() error {
	var allErrs field.ErrorList
	allErrs = append(allErrs, endpoint.Validate(t.Endpoint, field.NewPath("endpoint"))...)
	if err := t.Request.Validate(); err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("request"), t.Request.String(), err.Error()))
	}
	if t.Callback == nil {
		allErrs = append(allErrs, field.Required(field.NewPath("callback"), ""))
	}
	return allErrs.ToAggregate()
}

// PollHandle is a registered regular poll.
type PollHandle struct {
	ID           string
	Task         PollTask
	Period       time.Duration
	RegisteredAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerOption func(*Scheduler)

// WithPollWorkers bounds how many polls run at the same time.
func WithPollWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = make(chan struct{}, n)
		}
	}
}

// Scheduler runs registered read tasks at a fixed rate.
type Scheduler struct {
	executor *Executor
	workers  chan struct{}

	mu     *sync.Mutex
	polls  map[TaskKey]*PollHandle
	closed bool
}

func NewScheduler(executor *Executor, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		executor: executor,
		workers:  make(chan struct{}, DefaultPollWorkers),
		mu:       &sync.Mutex{},
		polls:    make(map[TaskKey]*PollHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Executor() *Executor {
	return s.executor
}

// RegisterRegularPoll starts polling task every period after initialDelay. A
// task already registered under the same key is unregistered first. Ticks
// never overlap: a tick that overruns the period delays the next one.
func (s *Scheduler) RegisterRegularPoll(task PollTask, period, initialDelay time.Duration) (*PollHandle, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, fmt.Errorf("poll period must be positive, got %s", period)
	}

	key := task.Key()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	previous := s.polls[key]
	s.mu.Unlock()
	if previous != nil {
		s.UnregisterRegularPoll(previous)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &PollHandle{
		ID:           uuidutil.ShortUUID(),
		Task:         task,
		Period:       period,
		RegisteredAt: time.Now(),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrSchedulerClosed
	}
	if other := s.polls[key]; other != nil {
		// lost a race with a concurrent registration of the same key
		s.mu.Unlock()
		cancel()
		return s.RegisterRegularPoll(task, period, initialDelay)
	}
	s.polls[key] = h
	metrics.RegisteredPolls.Set(float64(len(s.polls)))
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		if err := sleep(ctx, initialDelay); err != nil {
			return
		}
		wait.NonSlidingUntilWithContext(ctx, func(ctx context.Context) {
			s.run(ctx, task)
		}, period)
	}()
	klog.V(2).InfoS("Registered regular poll", "id", h.ID, "task", key, "period", period, "initialDelay", initialDelay)
	return h, nil
}

func (s *Scheduler) run(ctx context.Context, task PollTask) {
	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.workers }()
	s.executor.ExecuteRead(ctx, task.Endpoint, task.Request, task.Callback)
}

// UnregisterRegularPoll stops the poll and waits for a running tick to end.
// The endpoint's idle connection is closed and a borrowed one is closed on
// return. It returns false if the handle is not registered, which has no
// other effect, or if the idle connection could not be closed.
func (s *Scheduler) UnregisterRegularPoll(h *PollHandle) bool {
	if h == nil {
		return false
	}
	key := h.Task.Key()
	s.mu.Lock()
	if s.polls[key] != h {
		s.mu.Unlock()
		klog.V(4).InfoS("Poll is not registered", "id", h.ID, "task", key)
		return false
	}
	delete(s.polls, key)
	metrics.RegisteredPolls.Set(float64(len(s.polls)))
	s.mu.Unlock()

	h.cancel()
	p := s.executor.Pool()
	p.DisconnectOnReturn(h.Task.Endpoint, time.Now())
	<-h.done
	if err := p.ClearIdle(h.Task.Endpoint); err != nil {
		klog.ErrorS(err, "Failed to clear idle connection", "id", h.ID, "endpoint", h.Task.Endpoint)
		return false
	}
	klog.V(2).InfoS("Unregistered regular poll", "id", h.ID, "task", key)
	return true
}

// ExecuteOnce runs task synchronously, next to any regular polls.
func (s *Scheduler) ExecuteOnce(ctx context.Context, task PollTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	s.executor.ExecuteRead(ctx, task.Endpoint, task.Request, task.Callback)
	return nil
}

// RegisteredPolls lists active polls in registration order.
func (s *Scheduler) RegisteredPolls() []*PollHandle {
	s.mu.Lock()
	handles := make([]*PollHandle, 0, len(s.polls))
	for _, h := range s.polls {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].RegisteredAt.Before(handles[j].RegisteredAt)
	})
	return handles
}

// Close unregisters every poll. Later registrations fail.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, h := range s.RegisteredPolls() {
		s.UnregisterRegularPoll(h)
	}
}

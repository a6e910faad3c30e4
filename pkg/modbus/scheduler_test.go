package modbus

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"harnspoller/pkg/modbus/codec"
	"harnspoller/pkg/modbus/endpoint"
	"testing"
	"time"
)

func countingTask(ep endpoint.Endpoint, ref uint16, count *atomic.Int32) PollTask {
	return PollTask{
		Endpoint: ep,
		Request:  ReadRequest{UnitID: 1, Reference: ref, Length: 1, Function: ReadHoldingRegisters},
		Callback: ReadFuncs{
			Registers: func(ReadRequest, []uint16) { count.Inc() },
			Error:     func(ReadRequest, error) { count.Inc() },
		},
	}
}

func TestRegisterRegularPollRunsPeriodically(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	defer s.Close()
	count := atomic.NewInt32(0)

	h, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, count), 10*time.Millisecond, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)

	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Len(t, s.RegisteredPolls(), 1)
}

func TestRegisterRegularPollInitialDelay(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	defer s.Close()
	count := atomic.NewInt32(0)

	_, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, count), 10*time.Millisecond, 200*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
	assert.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestRegisterRegularPollRejectsInvalidTask(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	defer s.Close()
	count := atomic.NewInt32(0)

	_, err := s.RegisterRegularPoll(countingTask(nil, 0, count), time.Second, 0)
	assert.Error(t, err)

	task := countingTask(tcpEndpoint, 0, count)
	task.Request.Length = 0
	_, err = s.RegisterRegularPoll(task, time.Second, 0)
	assert.Error(t, err)

	_, err = s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, count), 0, 0)
	assert.Error(t, err)

	assert.Empty(t, s.RegisteredPolls())
}

func TestUnregisterRegularPollIsIdempotent(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	defer s.Close()
	count := atomic.NewInt32(0)

	h, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, count), 10*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.UnregisterRegularPoll(h))
	stopped := count.Load()
	assert.False(t, s.UnregisterRegularPoll(h))
	assert.False(t, s.UnregisterRegularPoll(nil))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, count.Load())
	assert.Empty(t, s.RegisteredPolls())
	assert.False(t, rig.slave.Connected())
}

func TestRegisterRegularPollReplacesSameKey(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	defer s.Close()
	first := atomic.NewInt32(0)
	second := atomic.NewInt32(0)

	old, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 4, first), 10*time.Millisecond, 0)
	require.NoError(t, err)
	h, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 4, second), 10*time.Millisecond, 0)
	require.NoError(t, err)

	assert.NotEqual(t, old.ID, h.ID)
	assert.Len(t, s.RegisteredPolls(), 1)
	assert.False(t, s.UnregisterRegularPoll(old))

	stopped := first.Load()
	assert.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, stopped, first.Load())
}

func TestRegisterRegularPollDistinctKeysShareEndpoint(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	defer s.Close()
	a := atomic.NewInt32(0)
	b := atomic.NewInt32(0)

	ha, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, a), 10*time.Millisecond, 0)
	require.NoError(t, err)
	_, err = s.RegisterRegularPoll(countingTask(tcpEndpoint, 1, b), 10*time.Millisecond, 0)
	require.NoError(t, err)

	assert.Len(t, s.RegisteredPolls(), 2)
	assert.Eventually(t, func() bool { return a.Load() >= 2 && b.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.True(t, s.UnregisterRegularPoll(ha))
	assert.Len(t, s.RegisteredPolls(), 1)
	stopped := a.Load()
	seen := b.Load()
	assert.Eventually(t, func() bool { return b.Load() >= seen+2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, stopped, a.Load())
}

// A tick that overruns the period delays the next tick instead of stacking.
func TestRegularPollDoesNotOverlap(t *testing.T) {
	inFlight := atomic.NewInt32(0)
	overlapped := atomic.NewBool(false)
	rig := newRig(t, tcpEndpoint, func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
		if inFlight.Inc() > 1 {
			overlapped.Store(true)
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Dec()
		return registerSlave(h, req)
	})
	s := NewScheduler(rig.executor)
	defer s.Close()
	count := atomic.NewInt32(0)

	_, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, count), 5*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, overlapped.Load())
}

func TestExecuteOnce(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	defer s.Close()

	var got []uint16
	err := s.ExecuteOnce(context.Background(), PollTask{
		Endpoint: tcpEndpoint,
		Request:  ReadRequest{UnitID: 1, Reference: 20, Length: 2, Function: ReadInputRegisters},
		Callback: ReadFuncs{Registers: func(_ ReadRequest, regs []uint16) { got = regs }},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint16{20, 21}, got)
}

func TestSchedulerClose(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	s := NewScheduler(rig.executor)
	count := atomic.NewInt32(0)

	_, err := s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, count), 10*time.Millisecond, 0)
	require.NoError(t, err)
	s.Close()

	assert.Empty(t, s.RegisteredPolls())
	_, err = s.RegisterRegularPoll(countingTask(tcpEndpoint, 0, count), 10*time.Millisecond, 0)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

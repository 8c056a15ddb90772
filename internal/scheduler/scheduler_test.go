package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"storj.io/common/testcontext"

	"github.com/prxssh/mapreduce/internal/queue"
	"github.com/prxssh/mapreduce/internal/rpc"
	"github.com/prxssh/mapreduce/internal/task"
)

// fakeDispatcher records attempts and fails those chosen by fail.
type fakeDispatcher struct {
	delay time.Duration
	fail  func(addr string, d task.Descriptor) bool

	mu          sync.Mutex
	attempts    []task.Descriptor
	successes   map[int]int
	inFlight    int
	maxInFlight int
	busy        map[string]bool
	overlap     bool
}

func newFake() *fakeDispatcher {
	return &fakeDispatcher{successes: make(map[int]int), busy: make(map[string]bool)}
}

func (f *fakeDispatcher) DoTask(ctx context.Context, addr string, d task.Descriptor) rpc.Outcome {
	f.mu.Lock()
	f.attempts = append(f.attempts, d)
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	if f.busy[addr] {
		f.overlap = true
	}
	f.busy[addr] = true
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}

	failed := f.fail != nil && f.fail(addr, d)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.busy[addr] = false
	if failed {
		return rpc.Outcome{Kind: rpc.KindUnreachable, Err: errors.New("worker gone")}
	}
	f.successes[d.Index]++
	return rpc.Outcome{OK: true}
}

func seed(addrs ...string) *queue.Queue[string] {
	q := queue.New[string]()
	for _, a := range addrs {
		q.Push(a)
	}
	return q
}

func TestScheduleRunsEveryTaskOnce(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	files := []string{"f0", "f1", "f2", "f3", "f4", "f5", "f6"}
	fake := newFake()
	workers := seed("w1", "w2", "w3")

	stats, err := Schedule(ctx, NewPhase("job", task.PhaseMap, files, 3), workers, fake, nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(files)), stats.Attempts)
	require.Zero(t, stats.Failures)

	for i := range files {
		require.Equal(t, 1, fake.successes[i])
	}
	for _, d := range fake.attempts {
		require.Equal(t, files[d.Index], d.File)
		require.Equal(t, 3, d.NumOther)
		require.Equal(t, task.PhaseMap, d.Phase)
	}
	require.Equal(t, 3, workers.Len(), "every worker is returned to the pool")
}

func TestScheduleReducePhaseDescriptors(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	fake := newFake()
	_, err := Schedule(ctx, NewPhase("job", task.PhaseReduce, []string{"a", "b"}, 4), seed("w1"), fake, nil)
	require.NoError(t, err)

	require.Len(t, fake.attempts, 4)
	for _, d := range fake.attempts {
		require.Empty(t, d.File)
		require.Equal(t, 2, d.NumOther)
		require.Equal(t, task.PhaseReduce, d.Phase)
	}
}

func TestScheduleBoundsInFlightByPoolSize(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	fake := newFake()
	fake.delay = 10 * time.Millisecond

	p := Phase{JobName: "job", Phase: task.PhaseReduce, NTasks: 5, NOther: 1}
	stats, err := Schedule(ctx, p, seed("w1", "w2"), fake, nil)
	require.NoError(t, err)
	require.Equal(t, int64(5), stats.Attempts)
	require.LessOrEqual(t, fake.maxInFlight, 2)
	require.False(t, fake.overlap, "a worker ran two tasks at once")
}

func TestScheduleRetriesFailuresAndDropsWorker(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var failed atomic.Int32
	fake := newFake()
	fake.delay = time.Millisecond
	fake.fail = func(addr string, _ task.Descriptor) bool {
		if addr == "bad" {
			failed.Add(1)
			return true
		}
		return false
	}

	workers := seed("bad", "good1", "good2")
	p := Phase{JobName: "job", Phase: task.PhaseReduce, NTasks: 5, NOther: 1}

	stats, err := Schedule(ctx, p, workers, fake, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failures)
	require.Equal(t, int32(1), failed.Load(), "failed worker must not be reused")
	require.Equal(t, int64(6), stats.Attempts)

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, fake.successes[i])
	}
	require.Equal(t, 2, workers.Len())
}

func TestScheduleWaitsForLateWorkers(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	fake := newFake()
	workers := queue.New[string]()

	ctx.Go(func() error {
		time.Sleep(30 * time.Millisecond)
		workers.Push("late")
		return nil
	})

	p := Phase{JobName: "job", Phase: task.PhaseReduce, NTasks: 3, NOther: 1}
	_, err := Schedule(ctx, p, workers, fake, nil)
	require.NoError(t, err)
	require.Len(t, fake.attempts, 3)
}

func TestScheduleBlocksWhenPoolExhausted(t *testing.T) {
	fake := newFake()
	fake.fail = func(string, task.Descriptor) bool { return true }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	p := Phase{JobName: "job", Phase: task.PhaseReduce, NTasks: 2, NOther: 1}
	_, err := Schedule(ctx, p, seed("w1", "w2"), fake, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, Error.Has(err))
}

func TestScheduleEmptyPhase(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	stats, err := Schedule(ctx, NewPhase("job", task.PhaseMap, nil, 2), queue.New[string](), newFake(), nil)
	require.NoError(t, err)
	require.Zero(t, stats.Attempts)
}

// cancelOnLast cancels the phase context from inside the final successful
// attempt, so completion and cancellation are observed together.
type cancelOnLast struct {
	cancel context.CancelFunc
	left   atomic.Int64
}

func (c *cancelOnLast) DoTask(ctx context.Context, addr string, d task.Descriptor) rpc.Outcome {
	if c.left.Add(-1) == 0 {
		c.cancel()
	}
	return rpc.Outcome{OK: true}
}

func TestScheduleCompletedPhaseWinsOverCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		d := &cancelOnLast{cancel: cancel}
		d.left.Store(3)

		p := Phase{JobName: "job", Phase: task.PhaseReduce, NTasks: 3, NOther: 1}
		stats, err := Schedule(ctx, p, seed("w1", "w2", "w3"), d, nil)
		cancel()

		require.NoError(t, err, "run %d", i)
		require.Equal(t, int64(3), stats.Attempts)
	}
}

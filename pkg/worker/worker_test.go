package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/vocalflow/pkg/media"
	"github.com/z-wentao/vocalflow/pkg/models"
	"github.com/z-wentao/vocalflow/pkg/pipeline"
	"github.com/z-wentao/vocalflow/pkg/queue"
	"github.com/z-wentao/vocalflow/pkg/storage"
	"github.com/z-wentao/vocalflow/pkg/transcriber"
)

// recordingQueue 记录 Ack / Nack
type recordingQueue struct {
	*queue.MemoryQueue

	mu     sync.Mutex
	acked  []string
	nacked []string
}

func newRecordingQueue(size int) *recordingQueue {
	return &recordingQueue{MemoryQueue: queue.NewMemoryQueue(size)}
}

func (q *recordingQueue) Ack(task *queue.Task) error {
	q.mu.Lock()
	q.acked = append(q.acked, task.JobID)
	q.mu.Unlock()
	return q.MemoryQueue.Ack(task)
}

func (q *recordingQueue) Nack(task *queue.Task, requeue bool) error {
	q.mu.Lock()
	q.nacked = append(q.nacked, fmt.Sprintf("%s requeue=%t", task.JobID, requeue))
	q.mu.Unlock()
	return q.MemoryQueue.Nack(task, requeue)
}

func (q *recordingQueue) snapshot() (acked, nacked []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...), append([]string(nil), q.nacked...)
}

func stopPool(p *Pool) {
	p.Stop()
	p.Wait()
}

func TestPoolProcessesAllTasks(t *testing.T) {
	q := newRecordingQueue(10)

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	wg.Add(5)

	pool := NewPool(q, ProcessorFunc(func(_ context.Context, id string) error {
		defer wg.Done()
		mu.Lock()
		seen[id]++
		mu.Unlock()
		if id == "job-3" {
			return errors.New("failed")
		}
		return nil
	}), Options{Dispatchers: 3})
	pool.Start()

	for _, id := range []string{"job-1", "job-2", "job-3", "job-4", "job-5"} {
		require.NoError(t, q.Enqueue(&queue.Task{JobID: id}))
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		acked, _ := q.snapshot()
		return len(acked) == 5
	}, 2*time.Second, 5*time.Millisecond)
	stopPool(pool)

	assert.Len(t, seen, 5)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	_, nacked := q.snapshot()
	assert.Empty(t, nacked)
}

func TestSlowTasksRunConcurrently(t *testing.T) {
	q := newRecordingQueue(10)
	release := make(chan struct{})
	var started atomic.Int32

	// 只有一个 dispatcher，三个慢任务也要同时进行
	pool := NewPool(q, ProcessorFunc(func(ctx context.Context, _ string) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}), Options{Dispatchers: 1})
	pool.Start()
	defer stopPool(pool)

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(&queue.Task{JobID: fmt.Sprintf("slow-%d", i)}))
	}

	require.Eventually(t, func() bool { return started.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, pool.InFlight())
	close(release)

	require.Eventually(t, func() bool { return pool.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type blockingSeparator struct {
	entered atomic.Int32
	release chan struct{}
}

func (b *blockingSeparator) Separate(ctx context.Context, audioPath, _ string) (string, error) {
	b.entered.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return audioPath, nil
}

func TestThreeSongJobsSeparateConcurrently(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewJobStore()
	q := queue.NewMemoryQueue(10)
	sep := &blockingSeparator{release: make(chan struct{})}

	p := pipeline.New(store, media.NewNormalizer(media.DefaultSampleRate, media.NativeConverter{}), sep, transcriber.MockEngine{}, dir)
	pool := NewPool(q, p, Options{Dispatchers: 2})
	pool.Start()
	defer stopPool(pool)

	ids := []string{"song-1", "song-2", "song-3"}
	for _, id := range ids {
		upload := filepath.Join(dir, id+"_clip.wav")
		require.NoError(t, media.WriteWAV(upload, make([]float32, media.DefaultSampleRate/4), media.DefaultSampleRate))
		require.NoError(t, store.Save(&models.Job{
			JobID:      id,
			Mode:       models.ModeSong,
			Status:     models.StatusPending,
			UploadPath: upload,
			CreatedAt:  time.Now(),
		}))
		require.NoError(t, q.Enqueue(&queue.Task{JobID: id}))
	}

	require.Eventually(t, func() bool {
		if sep.entered.Load() != 3 {
			return false
		}
		for _, id := range ids {
			job, err := store.Get(id)
			if err != nil || job.Status != models.StatusSeparating {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	close(sep.release)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := store.Get(id)
			if err != nil || job.Status != models.StatusDone {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStopRequeuesInterruptedTask(t *testing.T) {
	q := newRecordingQueue(1)
	started := make(chan struct{})
	var cancelled atomic.Bool

	pool := NewPool(q, ProcessorFunc(func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}), Options{Dispatchers: 1})
	pool.Start()

	require.NoError(t, q.Enqueue(&queue.Task{JobID: "job"}))
	<-started

	stopPool(pool)
	assert.True(t, cancelled.Load())

	acked, nacked := q.snapshot()
	assert.Empty(t, acked)
	assert.Equal(t, []string{"job requeue=true"}, nacked)
}

func TestJobTimeoutIsOptIn(t *testing.T) {
	q := newRecordingQueue(2)
	deadlines := make(chan bool, 2)

	pool := NewPool(q, ProcessorFunc(func(ctx context.Context, id string) error {
		_, ok := ctx.Deadline()
		deadlines <- ok
		return nil
	}), Options{})
	pool.Start()
	require.NoError(t, q.Enqueue(&queue.Task{JobID: "a"}))
	assert.False(t, <-deadlines, "默认不设置超时")
	require.Eventually(t, func() bool {
		acked, _ := q.snapshot()
		return len(acked) == 1
	}, 2*time.Second, 5*time.Millisecond)
	stopPool(pool)

	timed := NewPool(q, ProcessorFunc(func(ctx context.Context, id string) error {
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
		deadlines <- true
		return ctx.Err()
	}), Options{JobTimeout: 20 * time.Millisecond})
	timed.Start()
	defer stopPool(timed)
	require.NoError(t, q.Enqueue(&queue.Task{JobID: "b"}))
	assert.True(t, <-deadlines)
}

func TestWorkersExitWhenQueueClosed(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	pool := NewPool(q, ProcessorFunc(func(context.Context, string) error { return nil }), Options{})
	assert.Equal(t, 1, pool.Size())

	pool.Start()
	require.NoError(t, q.Close())

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit after queue close")
	}
}

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/vocalflow/pkg/media"
	"github.com/z-wentao/vocalflow/pkg/models"
	"github.com/z-wentao/vocalflow/pkg/separator"
	"github.com/z-wentao/vocalflow/pkg/storage"
	"github.com/z-wentao/vocalflow/pkg/subtitle"
	"github.com/z-wentao/vocalflow/pkg/transcriber"
)

// recordingStore 记录每次 Update 之后的状态
type recordingStore struct {
	storage.Store

	mu       sync.Mutex
	statuses map[string][]models.JobStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		Store:    storage.NewJobStore(),
		statuses: make(map[string][]models.JobStatus),
	}
}

func (s *recordingStore) Update(jobID string, fn func(*models.Job) error) error {
	if err := s.Store.Update(jobID, fn); err != nil {
		return err
	}
	job, err := s.Store.Get(jobID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.statuses[jobID] = append(s.statuses[jobID], job.Status)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) history(jobID string) []models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobStatus(nil), s.statuses[jobID]...)
}

type fakeSeparator struct {
	calls  []string
	result func(audioPath, workDir string) (string, error)
}

func (f *fakeSeparator) Separate(_ context.Context, audioPath, workDir string) (string, error) {
	f.calls = append(f.calls, audioPath)
	if f.result != nil {
		return f.result(audioPath, workDir)
	}
	return audioPath, nil
}

type fakeTranscriber struct {
	segments []models.Segment
	err      error
	onCall   func(path string)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) ([]models.Segment, error) {
	if f.onCall != nil {
		f.onCall(path)
	}
	return f.segments, f.err
}

type fixture struct {
	dir   string
	store *recordingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{dir: t.TempDir(), store: newRecordingStore()}
}

// addJob 写一个 1 秒的 WAV 作为上传文件
func (fx *fixture) addJob(t *testing.T, id, mode string) *models.Job {
	t.Helper()

	upload := filepath.Join(fx.dir, id+"_clip.wav")
	require.NoError(t, media.WriteWAV(upload, make([]float32, media.DefaultSampleRate), media.DefaultSampleRate))

	job := &models.Job{
		JobID:        id,
		Mode:         mode,
		Status:       models.StatusPending,
		OriginalName: "clip.wav",
		UploadPath:   upload,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, fx.store.Save(job))
	return job
}

func (fx *fixture) pipeline(sep separator.Engine, tr transcriber.Engine, converters ...media.Converter) *Pipeline {
	return New(fx.store, media.NewNormalizer(media.DefaultSampleRate, converters...), sep, tr, fx.dir)
}

func sampleSegments() []models.Segment {
	return []models.Segment{
		{Start: 0, End: 1, Text: "a"},
		{Start: 1, End: 2, Text: "b"},
		{Start: 2, End: 5, Text: "c"},
		{Start: 5, End: 6, Text: "d"},
		{Start: 6, End: 8, Text: "e"},
		{Start: 8, End: 9, Text: "f"},
	}
}

func TestRunSpeechMode(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "job-1", "speech")

	sep := &fakeSeparator{}
	tr := &fakeTranscriber{segments: sampleSegments()}
	tr.onCall = func(string) {
		job, err := fx.store.Get("job-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusTranscribing, job.Status)
	}

	err := fx.pipeline(sep, tr, media.NativeConverter{}).Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Empty(t, sep.calls, "speech 模式不做人声分离")
	assert.Equal(t, []models.JobStatus{
		models.StatusSeparating,
		models.StatusTranscribing,
		models.StatusDone,
	}, fx.store.history("job-1"))

	job, err := fx.store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, job.Status)
	assert.Equal(t, "/stream/job-1", job.AudioURL)
	assert.Equal(t, filepath.Join(fx.dir, "job-1_std.wav"), job.ProcessedPath)
	assert.InDelta(t, 1.0, job.Duration, 0.01)
	assert.Equal(t, "clip.wav", job.OriginalName)
	assert.Len(t, job.Segments, 6)
	assert.Equal(t, []models.Segment{{Start: 2, End: 5, Text: "c"}, {Start: 5, End: 6, Text: "d"}}, job.Highlights)
	assert.False(t, job.CompletedAt.IsZero())

	for _, ext := range subtitle.Formats {
		path := filepath.Join(fx.dir, "job-1."+ext)
		assert.FileExists(t, path)
		assert.Equal(t, path, job.SubtitlePaths[ext])
	}

	// 原始上传文件保留
	assert.FileExists(t, job.UploadPath)
}

func TestRunSongModeUsesSeparatedVocals(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "song-1", models.ModeSong)

	vocals := filepath.Join(fx.dir, "htdemucs", "song-1_std", "vocals.wav")
	sep := &fakeSeparator{result: func(string, string) (string, error) {
		require.NoError(t, os.MkdirAll(filepath.Dir(vocals), 0o755))
		require.NoError(t, os.WriteFile(vocals, []byte("RIFF"), 0o644))
		return vocals, nil
	}}

	var transcribed string
	tr := &fakeTranscriber{segments: sampleSegments(), onCall: func(p string) { transcribed = p }}

	require.NoError(t, fx.pipeline(sep, tr, media.NativeConverter{}).Run(context.Background(), "song-1"))

	assert.Equal(t, []string{filepath.Join(fx.dir, "song-1_std.wav")}, sep.calls)
	assert.Equal(t, vocals, transcribed)

	job, err := fx.store.Get("song-1")
	require.NoError(t, err)
	assert.Equal(t, vocals, job.ProcessedPath)
}

func TestRunSeparatorFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "song-2", models.ModeSong)

	sep := &fakeSeparator{result: func(string, string) (string, error) {
		return "", &separator.ProcessError{ExitCode: 1, Stderr: "RuntimeError: CUDA out of memory"}
	}}
	tr := &fakeTranscriber{segments: sampleSegments()}

	err := fx.pipeline(sep, tr, media.NativeConverter{}).Run(context.Background(), "song-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, separator.ErrSeparationFailed)

	job, err := fx.store.Get("song-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "CUDA out of memory")
	assert.Empty(t, job.ProcessedPath)
	assert.Empty(t, job.AudioURL)
	assert.Equal(t, []models.JobStatus{models.StatusSeparating, models.StatusError}, fx.store.history("song-2"))

	_, statErr := os.Stat(filepath.Join(fx.dir, "song-2.srt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunTranscriptionFailureUsesPlaceholders(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "job-2", "speech")

	tr := &fakeTranscriber{err: errors.New("401 invalid api key")}

	require.NoError(t, fx.pipeline(nil, tr, media.NativeConverter{}).Run(context.Background(), "job-2"))

	job, err := fx.store.Get("job-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, job.Status)
	assert.Equal(t, transcriber.PlaceholderSegments(), job.Segments)
	assert.Empty(t, job.Error)
}

func TestRunNormalizationFallback(t *testing.T) {
	fx := newFixture(t)
	job := fx.addJob(t, "job-3", "speech")

	// 没有可用的 Converter，直接使用原文件，时长从片段推算
	tr := &fakeTranscriber{segments: sampleSegments()}
	require.NoError(t, fx.pipeline(nil, tr).Run(context.Background(), "job-3"))

	got, err := fx.store.Get("job-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, job.UploadPath, got.ProcessedPath)
	assert.Equal(t, 9.0, got.Duration)
}

func TestRunEmptyTranscript(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "job-4", "speech")

	require.NoError(t, fx.pipeline(nil, &fakeTranscriber{}).Run(context.Background(), "job-4"))

	job, err := fx.store.Get("job-4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, job.Status)

	view := job.View()
	assert.NotNil(t, view.Segments)
	assert.NotNil(t, view.Highlights)
	assert.Empty(t, view.Segments)
	assert.Empty(t, view.Highlights)
}

type panicTranscriber struct{}

func (panicTranscriber) Transcribe(context.Context, string) ([]models.Segment, error) {
	panic("boom")
}

func TestRunRecoversPanic(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "job-5", "speech")

	err := fx.pipeline(nil, panicTranscriber{}).Run(context.Background(), "job-5")
	require.Error(t, err)

	job, err := fx.store.Get("job-5")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "boom")
	assert.Empty(t, job.ProcessedPath)
}

func TestRunSkipsTerminalJob(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "job-6", "speech")
	require.NoError(t, fx.store.Store.Update("job-6", func(j *models.Job) error {
		j.Status = models.StatusDone
		return nil
	}))

	tr := &fakeTranscriber{onCall: func(string) { t.Fatal("终态任务不应再次转录") }}
	require.NoError(t, fx.pipeline(nil, tr).Run(context.Background(), "job-6"))
	assert.Empty(t, fx.store.history("job-6"))
}

func TestRunUnknownJob(t *testing.T) {
	fx := newFixture(t)
	err := fx.pipeline(nil, &fakeTranscriber{}).Run(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrJobNotFound)
}

type blockingSeparator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSeparator) Separate(ctx context.Context, audioPath, _ string) (string, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return audioPath, nil
}

func TestSlowJobDoesNotBlockOthers(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "slow", models.ModeSong)
	fx.addJob(t, "fast", "speech")

	sep := &blockingSeparator{started: make(chan struct{}), release: make(chan struct{})}
	p := fx.pipeline(sep, &fakeTranscriber{segments: sampleSegments()}, media.NativeConverter{})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), "slow") }()
	<-sep.started

	// 慢任务卡在分离阶段时，读取和其他任务照常进行
	slow, err := fx.store.Get("slow")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeparating, slow.Status)

	require.NoError(t, p.Run(context.Background(), "fast"))
	fast, err := fx.store.Get("fast")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, fast.Status)

	close(sep.release)
	require.NoError(t, <-done)
}

func TestRemoveArtifacts(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "job-7", "speech")

	p := fx.pipeline(nil, &fakeTranscriber{segments: sampleSegments()}, media.NativeConverter{})
	require.NoError(t, p.Run(context.Background(), "job-7"))

	job, err := fx.store.Get("job-7")
	require.NoError(t, err)
	p.RemoveArtifacts(job)

	assert.NoFileExists(t, job.UploadPath)
	assert.NoFileExists(t, job.ProcessedPath)
	for _, path := range job.SubtitlePaths {
		assert.NoFileExists(t, path)
	}
}

func TestRunUploadNamedLikeStandardOutput(t *testing.T) {
	fx := newFixture(t)

	// 原文件名 std.wav 保存后正好是 {id}_std.wav
	upload := filepath.Join(fx.dir, "job-8_std.wav")
	require.NoError(t, media.WriteWAV(upload, make([]float32, 44100), 44100))
	before, err := os.ReadFile(upload)
	require.NoError(t, err)

	require.NoError(t, fx.store.Save(&models.Job{
		JobID:        "job-8",
		Mode:         "speech",
		Status:       models.StatusPending,
		OriginalName: "std.wav",
		UploadPath:   upload,
		CreatedAt:    time.Now(),
	}))

	p := fx.pipeline(nil, &fakeTranscriber{segments: sampleSegments()}, media.NativeConverter{})
	require.NoError(t, p.Run(context.Background(), "job-8"))

	after, err := os.ReadFile(upload)
	require.NoError(t, err)
	assert.Equal(t, before, after, "原始上传文件不能被修改")

	job, err := fx.store.Get("job-8")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, job.Status)
	assert.NotEqual(t, upload, job.ProcessedPath)
	assert.Equal(t, filepath.Join(fx.dir, "job-8_std_normalized.wav"), job.ProcessedPath)
	assert.InDelta(t, 1.0, job.Duration, 0.01)

	p.RemoveArtifacts(job)
	assert.NoFileExists(t, upload)
	assert.NoFileExists(t, job.ProcessedPath)
}

// failingPublishStore 拒绝写入 done，模拟发布时存储出错
type failingPublishStore struct {
	*recordingStore
}

func (s failingPublishStore) Update(jobID string, fn func(*models.Job) error) error {
	return s.recordingStore.Update(jobID, func(j *models.Job) error {
		if err := fn(j); err != nil {
			return err
		}
		if j.Status == models.StatusDone {
			return errors.New("redis: connection refused")
		}
		return nil
	})
}

func TestRunFailedPublishRemovesSubtitles(t *testing.T) {
	fx := newFixture(t)
	fx.addJob(t, "job-9", "speech")

	store := failingPublishStore{fx.store}
	p := New(store, media.NewNormalizer(media.DefaultSampleRate, media.NativeConverter{}), nil,
		&fakeTranscriber{segments: sampleSegments()}, fx.dir)

	err := p.Run(context.Background(), "job-9")
	require.Error(t, err)

	job, err := fx.store.Get("job-9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "connection refused")
	assert.Empty(t, job.ProcessedPath)
	assert.Empty(t, job.SubtitlePaths)

	for _, ext := range subtitle.Formats {
		assert.NoFileExists(t, filepath.Join(fx.dir, "job-9."+ext))
	}
}

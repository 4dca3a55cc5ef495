package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/vocalflow/pkg/config"
	"github.com/z-wentao/vocalflow/pkg/queue"
	"github.com/z-wentao/vocalflow/pkg/separator"
	"github.com/z-wentao/vocalflow/pkg/storage"
	"github.com/z-wentao/vocalflow/pkg/transcriber"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.UploadDir = filepath.Join(t.TempDir(), "uploads")
	return cfg
}

func TestNewMemoryApp(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)

	assert.IsType(t, &storage.JobStore{}, a.Store)
	assert.IsType(t, &queue.MemoryQueue{}, a.Queue)
	assert.Equal(t, cfg.Pipeline.WorkerPoolSize, a.Pool.Size())
	assert.DirExists(t, cfg.Server.UploadDir)

	// 同一个目录不能被第二个实例使用
	_, err = New(cfg)
	assert.Error(t, err)

	require.NoError(t, a.Close())

	b, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestNewStoreUnsupported(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "mongo"

	_, err := NewStore(cfg)
	assert.Error(t, err)
}

func TestNewSeparator(t *testing.T) {
	cfg := testConfig(t)
	assert.IsType(t, &separator.DemucsEngine{}, NewSeparator(cfg))

	cfg.Separator.Type = "none"
	assert.IsType(t, separator.NoopEngine{}, NewSeparator(cfg))
}

func TestNewTranscriber(t *testing.T) {
	cfg := testConfig(t)

	// 没有 API Key 时退回 Mock
	cfg.Transcriber.APIKey = ""
	assert.IsType(t, transcriber.MockEngine{}, NewTranscriber(cfg))

	cfg.Transcriber.APIKey = "sk-test"
	assert.IsType(t, &transcriber.OpenAIEngine{}, NewTranscriber(cfg))

	cfg.Transcriber.Type = "whisper"
	assert.IsType(t, &transcriber.WhisperCLIEngine{}, NewTranscriber(cfg))

	cfg.Transcriber.Type = "mock"
	assert.IsType(t, transcriber.MockEngine{}, NewTranscriber(cfg))
}

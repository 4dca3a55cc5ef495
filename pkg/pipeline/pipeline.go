package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/z-wentao/vocalflow/pkg/highlight"
	"github.com/z-wentao/vocalflow/pkg/media"
	"github.com/z-wentao/vocalflow/pkg/models"
	"github.com/z-wentao/vocalflow/pkg/separator"
	"github.com/z-wentao/vocalflow/pkg/storage"
	"github.com/z-wentao/vocalflow/pkg/subtitle"
	"github.com/z-wentao/vocalflow/pkg/transcriber"
)

// ErrInvalidTransition 状态机不允许的跳转
var ErrInvalidTransition = errors.New("invalid status transition")

// Pipeline 单个任务的处理流程
// 标准化 -> (song 模式) 人声分离 -> 转录 -> 字幕 / 精彩片段 -> 发布 done
// 每个阶段开始前先把状态写进 Store，轮询的客户端能看到进度
type Pipeline struct {
	store       storage.Store
	normalizer  *media.Normalizer
	separator   separator.Engine
	transcriber transcriber.Engine
	workDir     string
	now         func() time.Time
}

// New 创建 Pipeline，所有产物都写在 workDir 下
func New(store storage.Store, normalizer *media.Normalizer, sep separator.Engine, tr transcriber.Engine, workDir string) *Pipeline {
	if sep == nil {
		sep = separator.NoopEngine{}
	}
	return &Pipeline{
		store:       store,
		normalizer:  normalizer,
		separator:   sep,
		transcriber: tr,
		workDir:     workDir,
		now:         time.Now,
	}
}

// StandardPath 标准化后的音频: {workDir}/{jobID}_std.wav
func (p *Pipeline) StandardPath(jobID string) string {
	return filepath.Join(p.workDir, jobID+"_std.wav")
}

// normalizedPath 上传文件本身就叫 std.wav 时换一个名字，避免覆盖原始文件
func (p *Pipeline) normalizedPath(job *models.Job) string {
	path := p.StandardPath(job.JobID)
	if media.SamePath(path, job.UploadPath) {
		path = filepath.Join(p.workDir, job.JobID+"_std_normalized.wav")
	}
	return path
}

// Run 执行任务直到 done 或 error
// 返回的错误已经写进了任务的 error 字段，调用方只需要记录日志
func (p *Pipeline) Run(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
		if err != nil {
			p.fail(jobID, err)
		}
	}()

	job, err := p.store.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		// 重复投递的消息，已经处理过了
		log.Printf("⚠️ 任务 %s 已是终态 %s，跳过", jobID, job.Status)
		return nil
	}

	log.Printf("📝 开始处理任务: %s (mode=%s, file=%s)", jobID, job.Mode, job.OriginalName)
	started := p.now()

	// 1. 标准化（失败时退回原文件）
	if err := p.transition(jobID, models.StatusSeparating); err != nil {
		return err
	}

	normalized := p.normalizer.Normalize(ctx, job.UploadPath, p.normalizedPath(job))
	audioPath, duration := normalized.Path, normalized.Duration

	// 2. 人声分离，只有 song 模式需要
	if job.Mode == models.ModeSong {
		separated, err := p.separator.Separate(ctx, audioPath, p.workDir)
		if err != nil {
			return err
		}
		audioPath = separated
	}

	// 3. 转录（失败时使用占位片段）
	if err := p.transition(jobID, models.StatusTranscribing); err != nil {
		return err
	}

	segments, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("⚠️ 任务 %s 转录失败，使用占位片段: %v", jobID, err)
		segments = transcriber.PlaceholderSegments()
	}
	if segments == nil {
		segments = []models.Segment{}
	}

	if duration == 0 {
		duration = maxEnd(segments)
	}

	// 4. 字幕文件
	subtitlePaths, err := subtitle.WriteFiles(p.workDir, jobID, subtitle.Generate(segments))
	if err != nil {
		return err
	}

	// 5. 精彩片段
	highlights := highlight.Select(segments, highlight.DefaultCount)

	// 6. 一次性发布终态，读者不会看到只填了一半的 done
	err = p.store.Update(jobID, func(j *models.Job) error {
		if !models.CanTransition(j.Status, models.StatusDone) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, models.StatusDone)
		}
		j.Status = models.StatusDone
		j.AudioURL = "/stream/" + jobID
		j.Segments = segments
		j.Highlights = highlights
		j.Duration = duration
		j.OriginalName = job.OriginalName
		j.ProcessedPath = audioPath
		j.SubtitlePaths = subtitlePaths
		j.CompletedAt = p.now()
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("🎉 任务 %s 完成！%d 个片段，音频时长 %.2f 秒，耗时 %.2f 秒",
		jobID, len(segments), duration, p.now().Sub(started).Seconds())
	return nil
}

// transition 写入新状态，非法跳转返回 ErrInvalidTransition
func (p *Pipeline) transition(jobID string, to models.JobStatus) error {
	return p.store.Update(jobID, func(j *models.Job) error {
		if !models.CanTransition(j.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
		}
		j.Status = to
		return nil
	})
}

// fail 任务进入 error 状态，processed_path 保持为空
// 已经写出的字幕文件一并删除，失败的任务不提供下载
func (p *Pipeline) fail(jobID string, cause error) {
	log.Printf("❌ 任务 %s 失败: %v", jobID, cause)

	marked := false
	err := p.store.Update(jobID, func(j *models.Job) error {
		if j.Status.IsTerminal() {
			return nil
		}
		j.Status = models.StatusError
		j.Error = cause.Error()
		j.ProcessedPath = ""
		j.AudioURL = ""
		j.SubtitlePaths = nil
		j.CompletedAt = p.now()
		marked = true
		return nil
	})
	if err != nil {
		log.Printf("❌ 更新任务 %s 失败状态出错: %v", jobID, err)
	}

	if marked || err != nil {
		p.removeSubtitles(jobID)
	}
}

func (p *Pipeline) removeSubtitles(jobID string) {
	for _, ext := range subtitle.Formats {
		path := filepath.Join(p.workDir, subtitle.FileName(jobID, ext))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("⚠️ 删除文件失败 %s: %v", path, err)
		}
	}
}

// RemoveArtifacts 删除任务在磁盘上的所有产物，过期清理时调用
func (p *Pipeline) RemoveArtifacts(job *models.Job) {
	paths := []string{job.UploadPath, p.StandardPath(job.JobID), p.normalizedPath(job)}
	for _, path := range job.SubtitlePaths {
		paths = append(paths, path)
	}
	p.removeSubtitles(job.JobID)

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("⚠️ 删除文件失败 %s: %v", path, err)
		}
	}

	// demucs 输出目录: {workDir}/{model}/{jobID}_std/
	if filepath.Base(job.ProcessedPath) == "vocals.wav" {
		os.RemoveAll(filepath.Dir(job.ProcessedPath))
	}
}

// maxEnd 片段列表为空时返回 0
func maxEnd(segments []models.Segment) float64 {
	var end float64
	for _, s := range segments {
		end = max(end, s.End)
	}
	return end
}

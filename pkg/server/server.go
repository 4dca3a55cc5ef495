package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/z-wentao/vocalflow/pkg/models"
	"github.com/z-wentao/vocalflow/pkg/queue"
	"github.com/z-wentao/vocalflow/pkg/storage"
	"github.com/z-wentao/vocalflow/pkg/stream"
	"github.com/z-wentao/vocalflow/pkg/subtitle"
)

// Version 健康检查返回的版本号
const Version = "0.3.0"

// Options HTTP 层配置
type Options struct {
	UploadDir     string
	MaxUploadSize int64
}

// Server HTTP 接口，只负责接收上传和读取任务状态
// 任务处理都在 Worker 中完成
type Server struct {
	store     storage.Store
	queue     queue.Queue
	uploadDir string
	maxUpload int64

	newID func() string
	now   func() time.Time
}

// New 创建 Server
func New(store storage.Store, q queue.Queue, opts Options) *Server {
	return &Server{
		store:     store,
		queue:     q,
		uploadDir: opts.UploadDir,
		maxUpload: opts.MaxUploadSize,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Router 设置路由
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	if s.maxUpload > 0 {
		// 超过阈值的部分写到临时文件
		r.MaxMultipartMemory = min(s.maxUpload, 32<<20)
	}

	r.POST("/upload", s.handleUpload)
	r.GET("/download/:job_id/:fmt", s.handleDownload)
	r.GET("/stream/:job_id", s.handleStream)
	r.HEAD("/stream/:job_id", s.handleStream)

	api := r.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status/:job_id", s.handleStatus) // 获取任务状态
		api.GET("/jobs", s.handleListJobs)         // 列出所有任务
	}

	return r
}

// isValidAudioFormat 验证音频文件格式
func isValidAudioFormat(ext string) bool {
	validFormats := map[string]bool{
		".mp3":  true,
		".mp4":  true, // 视频文件，ffmpeg 可以提取音频
		".mpeg": true,
		".mpga": true,
		".m4a":  true,
		".wav":  true,
		".webm": true,
		".flac": true,
		".aac":  true,
		".ogg":  true,
	}
	return validFormats[strings.ToLower(ext)]
}

// handlePing 健康检查
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"version": Version,
	})
}

// handleUpload 保存上传文件，创建任务并加入队列后立即返回
func (s *Server) handleUpload(c *gin.Context) {
	// 1. 获取文件和模式
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请上传文件"})
		return
	}

	mode := strings.TrimSpace(c.PostForm("mode"))
	if mode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 mode 参数"})
		return
	}

	// 2. 验证文件格式和大小
	name := filepath.Base(file.Filename)
	ext := filepath.Ext(name)
	if !isValidAudioFormat(ext) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("不支持的文件格式 %s，支持: .mp3, .wav, .m4a, .mp4, .flac, .aac, .ogg", ext),
		})
		return
	}

	if s.maxUpload > 0 && file.Size > s.maxUpload {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("文件太大，最大 %.0f MB", float64(s.maxUpload)/1024/1024),
		})
		return
	}

	// 3. 保存到 {upload_dir}/{job_id}_{原文件名}
	jobID := s.newID()
	savePath := filepath.Join(s.uploadDir, jobID+"_"+name)

	if err := c.SaveUploadedFile(file, savePath); err != nil {
		log.Printf("❌ 保存文件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败"})
		return
	}

	log.Printf("✓ 文件已保存: %s (%.2f MB)", savePath, float64(file.Size)/1024/1024)

	// 4. 创建任务
	job := &models.Job{
		JobID:        jobID,
		Mode:         mode,
		Status:       models.StatusPending,
		OriginalName: name,
		UploadPath:   savePath,
		CreatedAt:    s.now(),
	}

	if err := s.store.Save(job); err != nil {
		log.Printf("❌ 保存任务失败: %v", err)
		os.Remove(savePath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存任务失败"})
		return
	}

	// 5. 加入队列（异步处理）
	if err := s.queue.Enqueue(&queue.Task{JobID: jobID}); err != nil {
		log.Printf("❌ 任务 %s 加入队列失败: %v", jobID, err)
		s.store.Update(jobID, func(j *models.Job) error {
			j.Status = models.StatusError
			j.Error = err.Error()
			j.CompletedAt = s.now()
			return nil
		})
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "任务加入队列失败，请稍后重试"})
		return
	}

	log.Printf("✓ 任务已加入队列: %s (mode=%s)", jobID, mode)

	c.JSON(http.StatusOK, gin.H{"job_id": jobID})
}

// handleStatus 获取任务状态
func (s *Server) handleStatus(c *gin.Context) {
	job, err := s.store.Get(c.Param("job_id"))
	if err != nil {
		if !errors.Is(err, storage.ErrJobNotFound) {
			log.Printf("❌ 读取任务失败: %v", err)
		}
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}

	c.JSON(http.StatusOK, job.View())
}

// handleListJobs 列出所有任务
func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.store.List()
	if err != nil {
		log.Printf("❌ 列出任务失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "列出任务失败"})
		return
	}

	views := make([]models.StatusView, 0, len(jobs))
	for _, job := range jobs {
		v := job.View()
		v.JobID = job.JobID
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  views,
		"total": len(views),
	})
}

// handleDownload 下载字幕文件，先校验格式再看任务
func (s *Server) handleDownload(c *gin.Context) {
	jobID := c.Param("job_id")
	ext := c.Param("fmt")

	if !subtitle.IsFormat(ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid format"})
		return
	}

	// 只有 done 的任务提供下载，失败任务残留的文件不对外
	job, err := s.store.Get(jobID)
	if err != nil || job.Status != models.StatusDone {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	path := filepath.Join(s.uploadDir, subtitle.FileName(filepath.Base(jobID), ext))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.FileAttachment(path, fmt.Sprintf("transcript_%s.%s", jobID, ext))
}

// handleStream 支持 Range 的音频播放
func (s *Server) handleStream(c *gin.Context) {
	job, err := s.store.Get(c.Param("job_id"))
	if err != nil || job.ProcessedPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "audio not found"})
		return
	}

	if err := stream.Serve(c.Writer, c.Request, job.ProcessedPath); err != nil {
		log.Printf("⚠️ 任务 %s 音频读取失败: %v", job.JobID, err)
		if !c.Writer.Written() {
			c.JSON(http.StatusNotFound, gin.H{"error": "audio not found"})
		}
	}
}

package models

import (
	"maps"
	"slices"
	"time"
)

type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusSeparating   JobStatus = "separating"
	StatusTranscribing JobStatus = "transcribing"
	StatusDone         JobStatus = "done"
	StatusError        JobStatus = "error"
)

// ModeSong 歌曲模式：转录前先分离人声
const ModeSong = "song"

// IsTerminal 是否为终态（done / error 之后不再变化）
func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition 状态机校验
// 只能沿 pending -> separating -> transcribing -> done 前进，任何非终态都可以直接跳到 error
func CanTransition(from, to JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusError {
		return true
	}

	switch from {
	case StatusPending:
		return to == StatusSeparating
	case StatusSeparating:
		return to == StatusTranscribing
	case StatusTranscribing:
		return to == StatusDone
	default:
		return false
	}
}

// Segment 带时间戳的转录片段（秒）
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration 片段时长
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

type Job struct {
	JobID         string            `json:"job_id"`
	Mode          string            `json:"mode"`
	Status        JobStatus         `json:"status"`
	Error         string            `json:"error,omitempty"`
	Segments      []Segment         `json:"segments,omitempty"`
	Highlights    []Segment         `json:"highlights,omitempty"`
	Duration      float64           `json:"duration"`
	OriginalName  string            `json:"original_name"`
	UploadPath    string            `json:"upload_path"`
	ProcessedPath string            `json:"processed_path,omitempty"` // 只有 done 时才有值
	AudioURL      string            `json:"audio_url,omitempty"`
	SubtitlePaths map[string]string `json:"subtitle_paths,omitempty"` // ext -> 文件路径
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Clone 深拷贝，读者拿到的是快照，不会和 pipeline 共享切片
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	c := *j
	c.Segments = slices.Clone(j.Segments)
	c.Highlights = slices.Clone(j.Highlights)
	c.SubtitlePaths = maps.Clone(j.SubtitlePaths)
	return &c
}

// StatusView 状态接口返回的字段
// 未产生的字段保持 null，和上传后立即查询看到的一致
type StatusView struct {
	JobID        string    `json:"job_id,omitempty"`
	Status       JobStatus `json:"status"`
	Error        *string   `json:"error"`
	Segments     []Segment `json:"segments"`
	Highlights   []Segment `json:"highlights"`
	Duration     *float64  `json:"duration"`
	OriginalName *string   `json:"original_name"`
	AudioURL     string    `json:"audio_url,omitempty"`
}

// View 生成状态视图
func (j *Job) View() StatusView {
	v := StatusView{
		Status:     j.Status,
		Segments:   j.Segments,
		Highlights: j.Highlights,
		AudioURL:   j.AudioURL,
	}

	if j.Error != "" {
		msg := j.Error
		v.Error = &msg
	}

	if j.Status == StatusDone {
		duration := j.Duration
		name := j.OriginalName
		v.Duration = &duration
		v.OriginalName = &name
		if v.Segments == nil {
			v.Segments = []Segment{}
		}
		if v.Highlights == nil {
			v.Highlights = []Segment{}
		}
	}

	return v
}

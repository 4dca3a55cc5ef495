package storage

import (
	"errors"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// ErrJobNotFound 任务不存在
var ErrJobNotFound = errors.New("job not found")

// Store 任务存储接口
// pipeline 是唯一的写者，HTTP 接口只读；Get/List 返回的都是快照
type Store interface {
	// Save 保存任务（创建或覆盖）
	Save(job *models.Job) error

	// Get 获取任务快照
	Get(jobID string) (*models.Job, error)

	// Update 更新任务（使用回调函数模式）
	// updateFn 返回错误时不写入任何字段
	Update(jobID string, updateFn func(*models.Job) error) error

	// List 列出所有任务（按创建时间倒序）
	List() ([]*models.Job, error)

	// Delete 删除任务，只有过期清理会调用
	Delete(jobID string) error

	// Close 关闭存储连接
	Close() error
}

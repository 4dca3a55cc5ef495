package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/z-wentao/vocalflow/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS vocal_jobs (
    job_id          TEXT PRIMARY KEY,
    mode            TEXT NOT NULL,
    status          TEXT NOT NULL,
    error           TEXT,
    segments        JSONB,
    highlights      JSONB,
    duration        DOUBLE PRECISION NOT NULL DEFAULT 0,
    original_name   TEXT NOT NULL,
    upload_path     TEXT NOT NULL,
    processed_path  TEXT,
    audio_url       TEXT,
    subtitle_paths  JSONB,
    created_at      TIMESTAMPTZ NOT NULL,
    completed_at    TIMESTAMPTZ
)`

const selectColumns = `
    SELECT job_id, mode, status, error, segments, highlights, duration,
    original_name, upload_path, processed_path, audio_url, subtitle_paths,
    created_at, completed_at
    FROM vocal_jobs`

type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore 创建 PostgreSQL 任务存储
func NewPostgresJobStore(connStr string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	return &PostgresJobStore{db: db}, nil
}

// Save UPSERT
func (s *PostgresJobStore) Save(job *models.Job) error {
	segmentsJSON, err := json.Marshal(job.Segments)
	if err != nil {
		return fmt.Errorf("序列化 segments 失败: %w", err)
	}
	highlightsJSON, err := json.Marshal(job.Highlights)
	if err != nil {
		return fmt.Errorf("序列化 highlights 失败: %w", err)
	}
	subtitlesJSON, err := json.Marshal(job.SubtitlePaths)
	if err != nil {
		return fmt.Errorf("序列化 subtitle_paths 失败: %w", err)
	}

	query := `
    INSERT INTO vocal_jobs (
    job_id, mode, status, error, segments, highlights, duration,
    original_name, upload_path, processed_path, audio_url, subtitle_paths,
    created_at, completed_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    ON CONFLICT (job_id)
    DO UPDATE SET
    status = EXCLUDED.status,
    error = EXCLUDED.error,
    segments = EXCLUDED.segments,
    highlights = EXCLUDED.highlights,
    duration = EXCLUDED.duration,
    processed_path = EXCLUDED.processed_path,
    audio_url = EXCLUDED.audio_url,
    subtitle_paths = EXCLUDED.subtitle_paths,
    completed_at = EXCLUDED.completed_at
    `

	var completedAt sql.NullTime
	if !job.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: job.CompletedAt, Valid: true}
	}

	_, err = s.db.Exec(query,
		job.JobID,
		job.Mode,
		job.Status,
		nullString(job.Error),
		segmentsJSON,
		highlightsJSON,
		job.Duration,
		job.OriginalName,
		job.UploadPath,
		nullString(job.ProcessedPath),
		nullString(job.AudioURL),
		subtitlesJSON,
		job.CreatedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("保存到数据库失败: %w", err)
	}

	return nil
}

// Get 获取任务
func (s *PostgresJobStore) Get(jobID string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(selectColumns+` WHERE job_id = $1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询数据库失败: %w", err)
	}
	return job, nil
}

// Update 更新任务
func (s *PostgresJobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}

	if err := updateFn(job); err != nil {
		return err
	}

	return s.Save(job)
}

// List 列出任务（按创建时间倒序）
func (s *PostgresJobStore) List() ([]*models.Job, error) {
	rows, err := s.db.Query(selectColumns + ` ORDER BY created_at DESC LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("查询数据库失败: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("读取任务失败: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// Delete 删除任务
func (s *PostgresJobStore) Delete(jobID string) error {
	result, err := s.db.Exec(`DELETE FROM vocal_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("删除任务失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取删除结果失败: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return nil
}

// Close 关闭数据库连接
func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var errorMsg, processedPath, audioURL sql.NullString
	var segmentsJSON, highlightsJSON, subtitlesJSON []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&job.JobID,
		&job.Mode,
		&job.Status,
		&errorMsg,
		&segmentsJSON,
		&highlightsJSON,
		&job.Duration,
		&job.OriginalName,
		&job.UploadPath,
		&processedPath,
		&audioURL,
		&subtitlesJSON,
		&job.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Error = errorMsg.String
	job.ProcessedPath = processedPath.String
	job.AudioURL = audioURL.String
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}

	if err := unmarshalNullable(segmentsJSON, &job.Segments); err != nil {
		return nil, fmt.Errorf("反序列化 segments 失败: %w", err)
	}
	if err := unmarshalNullable(highlightsJSON, &job.Highlights); err != nil {
		return nil, fmt.Errorf("反序列化 highlights 失败: %w", err)
	}
	if err := unmarshalNullable(subtitlesJSON, &job.SubtitlePaths); err != nil {
		return nil, fmt.Errorf("反序列化 subtitle_paths 失败: %w", err)
	}

	return &job, nil
}

func unmarshalNullable(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

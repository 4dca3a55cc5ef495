package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/z-wentao/vocalflow/pkg/app"
	"github.com/z-wentao/vocalflow/pkg/config"
	"github.com/z-wentao/vocalflow/pkg/models"
	"github.com/z-wentao/vocalflow/pkg/server"
	"github.com/z-wentao/vocalflow/pkg/storage"
)

type processOptions struct {
	mode        string
	outDir      string
	transcriber string
	separator   string
	jsonOutput  bool
}

func newProcessCommand(load func() (*config.Config, error)) *cobra.Command {
	opts := processOptions{}

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run the pipeline once on a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runProcess(cmd, cfg, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "speech", "Processing mode (song enables vocal separation)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Output directory (default: server.upload_dir)")
	cmd.Flags().StringVar(&opts.transcriber, "transcriber", "", "Override transcriber.type (openai, whisper, mock)")
	cmd.Flags().StringVar(&opts.separator, "separator", "", "Override separator.type (demucs, none)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the job status as JSON")

	return cmd
}

func runProcess(cmd *cobra.Command, cfg *config.Config, input string, opts processOptions) error {
	if opts.outDir != "" {
		cfg.Server.UploadDir = opts.outDir
	}
	if opts.transcriber != "" {
		cfg.Transcriber.Type = opts.transcriber
	}
	if opts.separator != "" {
		cfg.Separator.Type = opts.separator
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	unlock, err := server.LockDir(cfg.Server.UploadDir)
	if err != nil {
		return err
	}
	defer unlock()

	jobID := uuid.NewString()
	name := filepath.Base(input)
	uploadPath := filepath.Join(cfg.Server.UploadDir, jobID+"_"+name)
	if err := copyFile(input, uploadPath); err != nil {
		return fmt.Errorf("复制输入文件失败: %w", err)
	}

	store := storage.NewJobStore()
	if err := store.Save(&models.Job{
		JobID:        jobID,
		Mode:         opts.mode,
		Status:       models.StatusPending,
		OriginalName: name,
		UploadPath:   uploadPath,
		CreatedAt:    time.Now(),
	}); err != nil {
		return err
	}

	// 单个任务，失败信息已写入任务状态
	_ = app.NewPipeline(cfg, store).Run(cmd.Context(), jobID)

	job, err := store.Get(jobID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		view := job.View()
		view.JobID = job.JobID
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			return err
		}
	} else {
		printSummary(out, job)
	}

	if job.Status == models.StatusError {
		return fmt.Errorf("任务 %s 失败: %s", job.JobID, job.Error)
	}
	return nil
}

func printSummary(w io.Writer, job *models.Job) {
	fmt.Fprintf(w, "Job:       %s\n", job.JobID)
	fmt.Fprintf(w, "Status:    %s\n", job.Status)
	if job.Status != models.StatusDone {
		fmt.Fprintf(w, "Error:     %s\n", job.Error)
		return
	}
	fmt.Fprintf(w, "Duration:  %.2fs\n", job.Duration)
	fmt.Fprintf(w, "Segments:  %d\n", len(job.Segments))
	fmt.Fprintf(w, "Audio:     %s\n", job.ProcessedPath)

	exts := make([]string, 0, len(job.SubtitlePaths))
	for ext := range job.SubtitlePaths {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	for _, ext := range exts {
		fmt.Fprintf(w, "%-10s %s\n", ext+":", job.SubtitlePaths[ext])
	}

	for _, h := range job.Highlights {
		fmt.Fprintf(w, "Highlight: [%.2f-%.2f] %s\n", h.Start, h.End, h.Text)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

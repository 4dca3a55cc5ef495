package subtitle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// Formats 支持下载的字幕格式
var Formats = []string{"txt", "srt", "vtt", "lrc"}

// IsFormat 判断是否是支持的格式
func IsFormat(ext string) bool {
	switch ext {
	case "txt", "srt", "vtt", "lrc":
		return true
	}
	return false
}

// Documents 四种字幕文本
type Documents struct {
	SRT string
	VTT string
	LRC string
	TXT string
}

// Get 按扩展名取对应文本
func (d Documents) Get(ext string) (string, bool) {
	switch ext {
	case "srt":
		return d.SRT, true
	case "vtt":
		return d.VTT, true
	case "lrc":
		return d.LRC, true
	case "txt":
		return d.TXT, true
	}
	return "", false
}

// Generate 一次遍历同时生成 SRT / VTT / LRC / TXT
// 四种格式使用同一组 (start, end, 去掉首尾空白的 text)，顺序与输入一致
func Generate(segments []models.Segment) Documents {
	var srt, vtt, lrc, txt strings.Builder
	vtt.WriteString("WEBVTT\n\n")

	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)

		// TXT
		txt.WriteString(text)
		txt.WriteByte('\n')

		// SRT
		// 1
		// 00:00:00,000 --> 00:00:05,200
		// 字幕文本
		//
		srt.WriteString(strconv.Itoa(i + 1))
		srt.WriteByte('\n')
		srt.WriteString(FormatSRTTime(seg.Start) + " --> " + FormatSRTTime(seg.End) + "\n")
		srt.WriteString(text + "\n\n")

		// VTT（不需要序号）
		vtt.WriteString(FormatVTTTime(seg.Start) + " --> " + FormatVTTTime(seg.End) + "\n")
		vtt.WriteString(text + "\n\n")

		// LRC
		lrc.WriteString(FormatLRCTime(seg.Start) + text + "\n")
	}

	return Documents{
		SRT: srt.String(),
		VTT: vtt.String(),
		LRC: lrc.String(),
		TXT: txt.String(),
	}
}

// FileName 字幕文件名: {jobID}.{ext}
func FileName(jobID, ext string) string {
	return jobID + "." + ext
}

// WriteFiles 把四种字幕写到 dir/{jobID}.{ext}，返回 ext -> 路径
func WriteFiles(dir, jobID string, docs Documents) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	paths := make(map[string]string, len(Formats))
	for _, ext := range Formats {
		content, _ := docs.Get(ext)
		path := filepath.Join(dir, FileName(jobID, ext))
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("写入 %s 文件失败: %w", strings.ToUpper(ext), err)
		}
		paths[ext] = path
	}

	return paths, nil
}

package stream

import (
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultContentType 无法从扩展名推断时使用
const DefaultContentType = "audio/wav"

// 系统 mime.types 不一定包含音频类型
var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".webm": "audio/webm",
}

// ContentType 根据扩展名推断媒体类型
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return DefaultContentType
}

// Serve 按 Range 头返回文件的全部或一部分
// 只有在写响应头之前才会返回错误，由调用方决定 404 的响应体
func Serve(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return ServeContent(w, r, path, f, info.Size())
}

// ServeContent 和 Serve 相同，内容来自任意 io.ReadSeeker
// name 只用于推断媒体类型和日志
func ServeContent(w http.ResponseWriter, r *http.Request, name string, content io.ReadSeeker, size int64) error {
	h := w.Header()

	header := r.Header.Get("Range")
	if header == "" {
		h.Set("Content-Type", ContentType(name))
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		if _, err := io.Copy(w, content); err != nil {
			log.Printf("⚠️ 音频传输中断 %s: %v", name, err)
		}
		return nil
	}

	rng, err := ParseRange(header, size)
	if err != nil {
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// 先定位再写响应头，出错时调用方还能返回 404
	if _, err := content.Seek(rng.Start, io.SeekStart); err != nil {
		return err
	}

	h.Set("Content-Type", ContentType(name))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Range", rng.ContentRange(size))
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := io.CopyN(w, content, rng.Length()); err != nil {
		// 客户端拖动进度条时经常提前断开
		log.Printf("⚠️ 音频传输中断 %s: %v", name, err)
	}
	return nil
}

package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// NativeConverter 纯 Go 实现，不依赖 FFmpeg
// 支持 WAV (go-audio/wav) 和 MP3 (go-mp3)
type NativeConverter struct{}

func (NativeConverter) Name() string { return "native" }

// Convert 解码 -> 混成单声道 -> 线性插值重采样 -> 写 16-bit WAV
func (NativeConverter) Convert(ctx context.Context, inputPath, outputPath string, sampleRate int) (float64, error) {
	var (
		samples []float32
		srcRate int
		err     error
	)

	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".wav":
		samples, srcRate, err = decodeWAV(inputPath)
	case ".mp3":
		samples, srcRate, err = decodeMP3(inputPath)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(inputPath))
	}
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	resampled := resampleLinear(samples, srcRate, sampleRate)
	if err := WriteWAV(outputPath, resampled, sampleRate); err != nil {
		return 0, err
	}

	return float64(len(resampled)) / float64(sampleRate), nil
}

// decodeWAV 读取 PCM WAV，返回单声道 float32 [-1, 1] 和原始采样率
func decodeWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("打开 WAV 文件失败: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: 无效的 WAV 文件", ErrUnsupportedFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("解码 WAV 失败: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("%w: 缺少格式信息", ErrUnsupportedFormat)
	}

	bitDepth := int(d.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		mono[i] = sum / float32(channels)
	}

	return mono, buf.Format.SampleRate, nil
}

// decodeMP3 go-mp3 总是输出 16-bit 立体声交错 PCM
func decodeMP3(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("打开 MP3 文件失败: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("解码 MP3 失败: %w", err)
	}

	frames := len(pcm) / 4
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		mono[i] = (float32(left) + float32(right)) / 2 / 32768.0
	}

	return mono, decoder.SampleRate(), nil
}

// resampleLinear 线性插值重采样
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	newLen := int(float64(len(samples)) / ratio)
	resampled := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx+1 < len(samples) {
			resampled[i] = samples[srcIdx]*(1-frac) + samples[srcIdx+1]*frac
		} else if srcIdx < len(samples) {
			resampled[i] = samples[srcIdx]
		}
	}

	return resampled
}

// WriteWAV 写单声道 16-bit PCM WAV
func WriteWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建 WAV 文件失败: %w", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("写入 WAV 数据失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("写入 WAV 头失败: %w", err)
	}
	return f.Close()
}

// Probe 读取 WAV 头计算时长（秒）
func Probe(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%w: 无效的 WAV 文件", ErrUnsupportedFormat)
	}

	duration, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("读取 WAV 时长失败: %w", err)
	}
	return duration.Seconds(), nil
}

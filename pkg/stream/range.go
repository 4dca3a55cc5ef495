package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRange Range 头无法解析或超出文件大小
var ErrInvalidRange = errors.New("invalid range")

// Range 闭区间 [Start, End]
type Range struct {
	Start int64
	End   int64
}

// Length 区间字节数
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange Content-Range 响应头的值
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange 解析 "bytes=start-end"
// 多个区间时只处理第一个；end 省略时到文件末尾，超出时截断到 size-1
func ParseRange(header string, size int64) (Range, error) {
	ranges, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	if first, _, found := strings.Cut(ranges, ","); found {
		ranges = first
	}

	startStr, endStr, found := strings.Cut(strings.TrimSpace(ranges), "-")
	if !found || startStr == "" {
		// 后缀区间 bytes=-N 不支持
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		end = min(end, size-1)
	}

	return Range{Start: start, End: end}, nil
}

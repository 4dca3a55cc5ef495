package subtitle

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/z-wentao/vocalflow/pkg/models"
)

func TestFormatZero(t *testing.T) {
	assert.Equal(t, "00:00:00,000", FormatSRTTime(0))
	assert.Equal(t, "00:00:00.000", FormatVTTTime(0))
	assert.Equal(t, "[00:00.00]", FormatLRCTime(0))
}

func TestFormatTimes(t *testing.T) {
	cases := []struct {
		in       float64
		srt, lrc string
	}{
		{2.5, "00:00:02,500", "[00:02.50]"},
		{65.5, "00:01:05,500", "[01:05.50]"},
		{3661.25, "01:01:01,250", "[61:01.25]"},
		{-3, "00:00:00,000", "[00:00.00]"},
	}

	for _, c := range cases {
		assert.Equal(t, c.srt, FormatSRTTime(c.in), "srt %v", c.in)
		assert.Equal(t, strings.Replace(c.srt, ",", ".", 1), FormatVTTTime(c.in), "vtt %v", c.in)
		assert.Equal(t, c.lrc, FormatLRCTime(c.in), "lrc %v", c.in)
	}
}

func TestGenerateExactOutput(t *testing.T) {
	docs := Generate([]models.Segment{
		{Start: 0, End: 2.5, Text: " first line "},
		{Start: 2.5, End: 65.5, Text: "second"},
	})

	assert.Equal(t, "1\n00:00:00,000 --> 00:00:02,500\nfirst line\n\n"+
		"2\n00:00:02,500 --> 00:01:05,500\nsecond\n\n", docs.SRT)
	assert.Equal(t, "WEBVTT\n\n"+
		"00:00:00.000 --> 00:00:02.500\nfirst line\n\n"+
		"00:00:02.500 --> 00:01:05.500\nsecond\n\n", docs.VTT)
	assert.Equal(t, "[00:00.00]first line\n[00:02.50]second\n", docs.LRC)
	assert.Equal(t, "first line\nsecond\n", docs.TXT)
}

func TestGenerateEmpty(t *testing.T) {
	docs := Generate(nil)

	assert.Equal(t, "", docs.SRT)
	assert.Equal(t, "WEBVTT\n\n", docs.VTT)
	assert.Equal(t, "", docs.LRC)
	assert.Equal(t, "", docs.TXT)
}

var srtTiming = regexp.MustCompile(`(?m)^(\d{2}:\d{2}:\d{2},\d{3}) --> `)

func TestGenerateCueCountsAndOrdering(t *testing.T) {
	var segments []models.Segment
	for i := 0; i < 25; i++ {
		start := float64(i) * 3.25
		segments = append(segments, models.Segment{Start: start, End: start + 3, Text: "line"})
	}

	docs := Generate(segments)

	starts := srtTiming.FindAllStringSubmatch(docs.SRT, -1)
	require.Len(t, starts, len(segments))
	for i := 1; i < len(starts); i++ {
		// 固定宽度的时间戳可以直接按字符串比较
		assert.LessOrEqual(t, starts[i-1][1], starts[i][1])
	}

	assert.Equal(t, len(segments), strings.Count(docs.VTT, " --> "))
	assert.Len(t, strings.Split(strings.TrimSuffix(docs.LRC, "\n"), "\n"), len(segments))
	assert.Len(t, strings.Split(strings.TrimSuffix(docs.TXT, "\n"), "\n"), len(segments))
}

func TestDocumentsGet(t *testing.T) {
	docs := Documents{SRT: "s", VTT: "v", LRC: "l", TXT: "t"}
	for _, ext := range Formats {
		_, ok := docs.Get(ext)
		assert.True(t, ok, ext)
		assert.True(t, IsFormat(ext), ext)
	}

	_, ok := docs.Get("pdf")
	assert.False(t, ok)
	assert.False(t, IsFormat("pdf"))
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	docs := Generate([]models.Segment{{Start: 0, End: 1, Text: "hello"}})

	paths, err := WriteFiles(dir, "job-1", docs)
	require.NoError(t, err)
	require.Len(t, paths, 4)

	for _, ext := range Formats {
		assert.Equal(t, filepath.Join(dir, "job-1."+ext), paths[ext])
		data, err := os.ReadFile(paths[ext])
		require.NoError(t, err)
		want, _ := docs.Get(ext)
		assert.Equal(t, want, string(data))
	}
}

package subtitle

import (
	"fmt"
	"math"
	"strings"
)

// FormatSRTTime 将秒数格式化为 SRT 时间格式
// 例如: 65.5 -> 00:01:05,500
// 各分量直接截断，不做四舍五入；小时不回绕
func FormatSRTTime(seconds float64) string {
	seconds = clamp(seconds)

	hours := int(seconds / 3600)
	minutes := int(math.Mod(seconds, 3600) / 60)
	secs := int(math.Mod(seconds, 60))
	millis := int(math.Mod(seconds*1000, 1000))

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// FormatVTTTime VTT 使用点号(.)而不是逗号(,)
// 例如: 65.5 -> 00:01:05.500
func FormatVTTTime(seconds float64) string {
	return strings.Replace(FormatSRTTime(seconds), ",", ".", 1)
}

// FormatLRCTime LRC 时间标签，精确到百分之一秒，分钟不进位到小时
// 例如: 65.5 -> [01:05.50]
func FormatLRCTime(seconds float64) string {
	seconds = clamp(seconds)

	minutes := int(seconds / 60)
	secs := int(math.Mod(seconds, 60))
	centis := int(math.Mod(seconds*100, 100))

	return fmt.Sprintf("[%02d:%02d.%02d]", minutes, secs, centis)
}

func clamp(seconds float64) float64 {
	if seconds < 0 || math.IsNaN(seconds) {
		return 0
	}
	return seconds
}

package highlight

import (
	"slices"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// DefaultCount 默认选出的精彩片段数
const DefaultCount = 3

// Select 只在中间三分之一的片段里挑选，按时长降序取前 n 个
// 下标范围 [len/3, 2*len/3)，片头片尾通常没有代表性
func Select(segments []models.Segment, n int) []models.Segment {
	if n <= 0 {
		return []models.Segment{}
	}

	lo, hi := len(segments)/3, 2*len(segments)/3
	middle := slices.Clone(segments[lo:hi])

	// 时长相同时保持原顺序
	slices.SortStableFunc(middle, func(a, b models.Segment) int {
		da, db := a.Duration(), b.Duration()
		switch {
		case da > db:
			return -1
		case da < db:
			return 1
		default:
			return 0
		}
	})

	if len(middle) > n {
		middle = middle[:n]
	}
	if middle == nil {
		return []models.Segment{}
	}
	return middle
}

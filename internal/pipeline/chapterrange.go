package pipeline

import (
	"sort"
	"strconv"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
)

// ParseChapterRange parses a chapter_range string into a strictly
// increasing, duplicate-free sequence of 1-based positions within
// [1, count]. A nil/empty s means "every chapter". Each comma-separated
// item is either "N" or "N-M" (inclusive, N <= M).
func ParseChapterRange(s string, count int) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		out := make([]int, count)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}

	seen := make(map[int]bool)
	var out []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, engerr.InvalidPlan("chapter_range contains an empty item")
		}
		lo, hi, err := parseRangeItem(item)
		if err != nil {
			return nil, err
		}
		if lo < 1 || hi > count || lo > hi {
			return nil, engerr.InvalidPlan("chapter_range item " + item + " is out of bounds")
		}
		for n := lo; n <= hi; n++ {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func parseRangeItem(item string) (lo, hi int, err error) {
	dash := strings.IndexByte(item, '-')
	if dash < 0 {
		n, perr := strconv.Atoi(item)
		if perr != nil {
			return 0, 0, engerr.InvalidPlan("chapter_range item " + item + " is not a valid integer")
		}
		return n, n, nil
	}
	loStr, hiStr := item[:dash], item[dash+1:]
	lo, perr := strconv.Atoi(loStr)
	if perr != nil {
		return 0, 0, engerr.InvalidPlan("chapter_range item " + item + " has an invalid lower bound")
	}
	hi, perr = strconv.Atoi(hiStr)
	if perr != nil {
		return 0, 0, engerr.InvalidPlan("chapter_range item " + item + " has an invalid upper bound")
	}
	if lo > hi {
		return 0, 0, engerr.InvalidPlan("chapter_range item " + item + " has lo > hi")
	}
	return lo, hi, nil
}

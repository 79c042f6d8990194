package profile

import (
	"slices"
)

// AgeClasses is the number of non-empty recency classes (1 oldest .. 4 newest).
const AgeClasses = 4

// Ages holds one recency class per level and polarity. 0 means no data.
type Ages struct {
	Up   []int `json:"up"`
	Down []int `json:"down"`
}

// Rank assigns relative recency classes per polarity. minAge is a threshold on
// the normalized mean time (0 oldest, 1 newest); populated levels below it get 0.
func Rank(levels []Level, minAge float64) Ages {
	return Ages{
		Up:   rankSide(levels, Up, minAge),
		Down: rankSide(levels, Down, minAge),
	}
}

type ageKey struct {
	idx  int
	mean float64
	live bool
}

func rankSide(levels []Level, p Polarity, minAge float64) []int {
	n := len(levels)
	classes := make([]int, n)
	keys := make([]ageKey, n)

	populated := 0
	oldest, newest := 0.0, 0.0
	for i := range levels {
		mean, ok := levels[i].MeanTime(p)
		if !ok {
			// tiny negative key by index: sorts ahead of real offsets, never ties
			keys[i] = ageKey{idx: i, mean: -float64(n-i) * 1e-9}
			continue
		}
		if populated == 0 || mean < oldest {
			oldest = mean
		}
		if populated == 0 || mean > newest {
			newest = mean
		}
		populated++
		keys[i] = ageKey{idx: i, mean: mean, live: true}
	}
	if populated == 0 {
		return classes
	}

	slices.SortStableFunc(keys, func(a, b ageKey) int {
		switch {
		case a.mean < b.mean:
			return -1
		case a.mean > b.mean:
			return 1
		}
		return 0
	})

	span := newest - oldest
	pos := 0
	for _, k := range keys {
		if !k.live {
			continue
		}
		pos++
		norm := 1.0
		if span > 0 {
			norm = (k.mean - oldest) / span
		}
		if norm < minAge {
			continue
		}
		c := (AgeClasses*pos + populated - 1) / populated
		classes[k.idx] = min(max(c, 1), AgeClasses)
	}
	return classes
}

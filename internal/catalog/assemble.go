package catalog

import (
	"sort"

	"mediapipe/internal/models"
)

// SortVariants orders variants by breakpoint order, then codec priority, so
// the stored list does not depend on job completion order. Unknown names sort last.
func SortVariants(variants []models.VariantRecord, breakpoints []string, codecs []models.Codec) {
	bpRank := rank(breakpoints)
	codecNames := make([]string, len(codecs))
	for i, c := range codecs {
		codecNames[i] = string(c)
	}
	codecRank := rank(codecNames)

	sort.SliceStable(variants, func(i, j int) bool {
		bi, bj := rankOf(bpRank, variants[i].Breakpoint), rankOf(bpRank, variants[j].Breakpoint)
		if bi != bj {
			return bi < bj
		}
		return rankOf(codecRank, string(variants[i].Codec)) < rankOf(codecRank, string(variants[j].Codec))
	})
}

// SelectPrimary picks the highest-priority codec at the broadest breakpoint
// that produced anything. breakpoints are ordered broadest first, codecs most
// efficient first. It returns the storage key and false when variants is empty.
func SelectPrimary(variants []models.VariantRecord, breakpoints []string, codecs []models.Codec) (string, bool) {
	byPair := make(map[string]map[models.Codec]string)
	for _, v := range variants {
		if byPair[v.Breakpoint] == nil {
			byPair[v.Breakpoint] = make(map[models.Codec]string)
		}
		byPair[v.Breakpoint][v.Codec] = v.StorageKey
	}
	for _, bp := range breakpoints {
		produced, ok := byPair[bp]
		if !ok {
			continue
		}
		for _, codec := range codecs {
			if key, ok := produced[codec]; ok {
				return key, true
			}
		}
	}
	return "", false
}

func rank(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

func rankOf(m map[string]int, k string) int {
	if r, ok := m[k]; ok {
		return r
	}
	return len(m)
}

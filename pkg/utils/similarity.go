package utils

import (
	"strings"
	"sync"
	"unicode/utf8"
)

type levRows struct {
	prev []int
	curr []int
}

var rowsPool = sync.Pool{New: func() any {
	return &levRows{
		prev: make([]int, 0, 256),
		curr: make([]int, 0, 256),
	}
}}

// Levenshtein returns the edit distance between two strings.
func Levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	al, bl := len(ar), len(br)
	if al == 0 {
		return bl
	}
	if bl == 0 {
		return al
	}
	if bl > al {
		ar, br = br, ar
		al, bl = bl, al
	}

	rows := rowsPool.Get().(*levRows)
	defer rowsPool.Put(rows)
	rows.prev = resize(rows.prev, bl+1)
	rows.curr = resize(rows.curr, bl+1)

	for j := 0; j <= bl; j++ {
		rows.prev[j] = j
	}
	for i := 1; i <= al; i++ {
		rows.curr[0] = i
		for j := 1; j <= bl; j++ {
			cost := 0
			if ar[i-1] != br[j-1] {
				cost = 1
			}
			rows.curr[j] = min(rows.prev[j]+1, rows.curr[j-1]+1, rows.prev[j-1]+cost)
		}
		rows.prev, rows.curr = rows.curr, rows.prev
	}
	return rows.prev[bl]
}

func resize(s []int, n int) []int {
	if cap(s) < n {
		return make([]int, n)
	}
	return s[:n]
}

// Similarity returns a float between 0 and 1 (1 = identical), ignoring case
// and surrounding space.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1.0
	}
	maxLen := float64(max(utf8.RuneCountInString(a), utf8.RuneCountInString(b)))
	return 1.0 - float64(Levenshtein(a, b))/maxLen
}

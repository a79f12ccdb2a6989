package bench

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePages expands a page-range expression into 1-based page
// numbers. Two forms are accepted: a contiguous interval "a-b" and an
// explicit comma list "a,b,c" (a single number counts as a one-entry
// list). Duplicates are dropped, first occurrence wins.
func ParsePages(expr string) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty page range")
	}

	if strings.Contains(expr, "-") {
		parts := strings.SplitN(expr, "-", 2)
		first, err := parsePageNumber(parts[0])
		if err != nil {
			return nil, err
		}
		last, err := parsePageNumber(parts[1])
		if err != nil {
			return nil, err
		}
		if last < first {
			return nil, fmt.Errorf("invalid page range %q: end before start", expr)
		}
		pages := make([]int, 0, last-first+1)
		for p := first; p <= last; p++ {
			pages = append(pages, p)
		}
		return pages, nil
	}

	seen := map[int]bool{}
	var pages []int
	for _, part := range strings.Split(expr, ",") {
		p, err := parsePageNumber(part)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		pages = append(pages, p)
	}
	return pages, nil
}

func parsePageNumber(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid page number %q", strings.TrimSpace(s))
	}
	if p < 1 {
		return 0, fmt.Errorf("page numbers are 1-based, got %d", p)
	}
	return p, nil
}

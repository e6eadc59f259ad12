// Package paginate turns a full result list into the visible page.
package paginate

// DefaultPageSize is the number of stocks shown per page
const DefaultPageSize = 12

// Window describes the visible slice [Start, End) of a list
type Window struct {
	Page      int `json:"page"` // 1-based, already clamped
	PageSize  int `json:"page_size"`
	PageCount int `json:"page_count"`
	Start     int `json:"start"`
	End       int `json:"end"`
	Total     int `json:"total"`
}

// Paginate derives the window for currentPage. The page is clamped into
// [1, max(1, PageCount)]; total 0 yields an empty window with PageCount 1.
// A non-positive pageSize falls back to DefaultPageSize.
func Paginate(total, pageSize, currentPage int) Window {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if total < 0 {
		total = 0
	}

	pageCount := (total + pageSize - 1) / pageSize
	if pageCount < 1 {
		pageCount = 1
	}

	page := Clamp(currentPage, pageCount)

	start := (page - 1) * pageSize
	end := page * pageSize
	if end > total {
		end = total
	}
	if start > end {
		start = end
	}

	return Window{
		Page:      page,
		PageSize:  pageSize,
		PageCount: pageCount,
		Start:     start,
		End:       end,
		Total:     total,
	}
}

// Clamp limits page to [1, max(1, pageCount)]
func Clamp(page, pageCount int) int {
	if pageCount < 1 {
		pageCount = 1
	}
	if page < 1 {
		return 1
	}
	if page > pageCount {
		return pageCount
	}
	return page
}

// Len is the number of items in the window
func (w Window) Len() int {
	return w.End - w.Start
}

// HasPrev reports whether a previous page exists
func (w Window) HasPrev() bool {
	return w.Page > 1
}

// HasNext reports whether a next page exists
func (w Window) HasNext() bool {
	return w.Page < w.PageCount
}

// Slice returns the visible items of items for w.
// The result shares the backing array of items.
func Slice[T any](items []T, w Window) []T {
	if w.End > len(items) || w.Start > w.End {
		return nil
	}
	return items[w.Start:w.End]
}

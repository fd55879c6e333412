package domain

import "fmt"

// WorkItem identifies one URL to download and the row its status updates belong to.
type WorkItem struct {
	URL      string `json:"url"`
	RowIndex int    `json:"index"`
}

func (w WorkItem) String() string {
	return fmt.Sprintf("#%d %s", w.RowIndex, w.URL)
}

// NewWorkItems assigns consecutive row indexes starting at first.
func NewWorkItems(urls []string, first int) []WorkItem {
	items := make([]WorkItem, 0, len(urls))
	for i, u := range urls {
		items = append(items, WorkItem{URL: u, RowIndex: first + i})
	}
	return items
}

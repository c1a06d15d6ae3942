package storage

import (
	"cmp"
	"slices"

	"github.com/mcoot/fortunegame/internal/model"
)

// SortFortunesByID orders fortunes by ascending id
func SortFortunesByID(fs []*model.Fortune) {
	slices.SortFunc(fs, func(a, b *model.Fortune) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// SortFortunesNewestFirst orders fortunes by creation time, newest first,
// breaking ties by descending id
func SortFortunesNewestFirst(fs []*model.Fortune) {
	slices.SortFunc(fs, func(a, b *model.Fortune) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// SortHistoryNewestFirst orders history entries by receipt time, newest
// first, breaking ties by descending id
func SortHistoryNewestFirst(entries []model.HistoryEntry) {
	slices.SortFunc(entries, func(a, b model.HistoryEntry) int {
		if c := b.ReceivedAt.Compare(a.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

package model

import "time"

// HistoryEntryID uniquely identifies a history row
type HistoryEntryID int64

// HistoryEntry records that a user received a fortune. Entries are append-only.
type HistoryEntry struct {
	ID         HistoryEntryID
	UserID     UserID
	FortuneID  FortuneID
	ReceivedAt time.Time
}

// HistoryRecord is a history entry joined with its fortune
type HistoryRecord struct {
	FortuneText string
	Rarity      Rarity
	Date        time.Time
}

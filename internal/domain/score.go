package domain

import (
	"sort"
	"time"
)

// UnknownHandle is displayed for rows that arrive without a handle
const UnknownHandle = "(unknown)"

// Source values identify which store served a result
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// ScoreEntry is one player's latest score
type ScoreEntry struct {
	Handle     string    `json:"handle"`
	Score      int64     `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RankedEntry is a ScoreEntry with its 1-based position on a board
type RankedEntry struct {
	Rank int `json:"rank"`
	ScoreEntry
	Me bool `json:"me,omitempty"` // row belongs to the bound session handle
}

// Board is a ranked leaderboard view together with where it came from
type Board struct {
	Entries   []RankedEntry `json:"entries"`
	Source    Source        `json:"source"`
	Notice    string        `json:"notice,omitempty"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Degraded reports whether the board was served from the local cache
func (b Board) Degraded() bool {
	return b.Source == SourceLocal
}

// RanksBefore reports whether a sorts ahead of b: score desc, recorded_at asc,
// then handle asc so equal rows still order deterministically
func RanksBefore(a, b ScoreEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.Handle < b.Handle
}

// SortEntries orders entries in place by leaderboard rank
func SortEntries(entries []ScoreEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return RanksBefore(entries[i], entries[j])
	})
}

// Rank assigns positions to already sorted entries, marking rows owned by me
func Rank(entries []ScoreEntry, me string) []RankedEntry {
	ranked := make([]RankedEntry, 0, len(entries))
	for i, e := range entries {
		ranked = append(ranked, RankedEntry{
			Rank:       i + 1,
			ScoreEntry: e,
			Me:         me != "" && e.Handle == me,
		})
	}
	return ranked
}

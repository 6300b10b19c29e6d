package domain

import (
	"slices"
	"time"
)

// VisitorRecord is one observed profile visit, as returned by the origin API.
// Field names in JSON follow the on-disk format of the visitor database.
type VisitorRecord struct {
	Timestamp      int64  `json:"time"`
	VisitorID      int64  `json:"uin"`
	DisplayName    string `json:"name"`
	Source         int    `json:"src"`
	PlatformSource int    `json:"platform_src"`
	ServiceSource  int    `json:"service_src"`
	HideFrom       bool   `json:"hide_from"`
	IsHiddenVisit  bool   `json:"is_hide_visit"`
	IsYellowVIP    bool   `json:"yellow"`
	IsSuperVIP     bool   `json:"supervip"`
	PostID         string `json:"shuoshuo_id"`
}

// VisitKey is the deduplication identity of a visit.
//
// Two distinct visits by the same visitor within the same second collapse
// into one key, so such visits are counted once.
type VisitKey struct {
	VisitorID int64
	Timestamp int64
}

func (r VisitorRecord) Key() VisitKey {
	return VisitKey{VisitorID: r.VisitorID, Timestamp: r.Timestamp}
}

// Time returns the visit time in the given location.
func (r VisitorRecord) Time(loc *time.Location) time.Time {
	return time.Unix(r.Timestamp, 0).In(loc)
}

// SortNewestFirst orders records by timestamp descending. Records sharing a
// timestamp keep their relative order.
func SortNewestFirst(records []VisitorRecord) {
	slices.SortStableFunc(records, func(a, b VisitorRecord) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		}
		return 0
	})
}

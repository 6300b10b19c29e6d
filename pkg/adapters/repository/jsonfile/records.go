package jsonfile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
)

// storedRecord is the on-disk shape. Older data files kept the origin's raw
// integer flags, so flags accept numbers as well as booleans.
type storedRecord struct {
	Timestamp      int64   `json:"time"`
	VisitorID      int64   `json:"uin"`
	DisplayName    *string `json:"name"`
	Source         int     `json:"src"`
	PlatformSource int     `json:"platform_src"`
	ServiceSource  int     `json:"service_src"`
	HideFrom       flag    `json:"hide_from"`
	IsHiddenVisit  flag    `json:"is_hide_visit"`
	IsYellowVIP    flag    `json:"yellow"`
	IsSuperVIP     flag    `json:"supervip"`
	PostID         *string `json:"shuoshuo_id"`
}

func (s storedRecord) record() domain.VisitorRecord {
	rec := domain.VisitorRecord{
		Timestamp:      s.Timestamp,
		VisitorID:      s.VisitorID,
		Source:         s.Source,
		PlatformSource: s.PlatformSource,
		ServiceSource:  s.ServiceSource,
		HideFrom:       s.HideFrom != 0,
		IsHiddenVisit:  s.IsHiddenVisit != 0,
		IsYellowVIP:    s.IsYellowVIP > 0,
		IsSuperVIP:     s.IsSuperVIP > 0,
	}
	if s.DisplayName != nil {
		rec.DisplayName = *s.DisplayName
	}
	if s.PostID != nil {
		rec.PostID = *s.PostID
	}
	return rec
}

// DecodeRecords parses a JSON array of visitor records in either the current
// or the legacy flag encoding.
func DecodeRecords(data []byte) ([]domain.VisitorRecord, error) {
	var stored []storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	records := make([]domain.VisitorRecord, 0, len(stored))
	for _, s := range stored {
		records = append(records, s.record())
	}
	return records, nil
}

// flag holds a boolean-ish value as an integer: true is 1, false and null are 0.
type flag int64

func (f *flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch s {
	case "true":
		*f = 1
		return nil
	case "false", "null", "":
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid flag value %s", b)
	}
	*f = flag(n)
	return nil
}

package domain

import "time"

type Creator struct {
	MID  int64  `db:"mid"`
	Name string `db:"name"`
}

type Video struct {
	AID          int64
	BVID         string
	MID          int64
	Title        string
	Description  *string
	Pic          *string
	Created      *time.Time
	Tags         []string
	TouhouStatus TouhouStatus
	SeasonID     *int64
	Parts        []VideoPart
}

// VideoPart is one page of a multi-part submission.
type VideoPart struct {
	CID      int64
	AID      int64
	Page     int
	Part     string // the part's own title
	Duration *time.Duration
	CTime    *time.Time
}

// CatalogItem is one entry of a creator's catalog listing. The listing
// carries the creator's display name alongside every video.
type CatalogItem struct {
	Creator Creator
	Video   Video
}

// ArchivedVideo is a stored video joined with its uploader's display name.
type ArchivedVideo struct {
	Video
	UploaderName *string
}

package bilibili

import "encoding/json"

// envelope wraps every platform response.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SearchData is the payload of the catalog listing endpoint.
type SearchData struct {
	List struct {
		VList []VListItem `json:"vlist"`
	} `json:"list"`
	Page PageInfo `json:"page"`
}

type PageInfo struct {
	PN    int `json:"pn"`
	PS    int `json:"ps"`
	Count int `json:"count"`
}

type VListItem struct {
	AID         int64  `json:"aid"`
	BVID        string `json:"bvid"`
	MID         int64  `json:"mid"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Pic         string `json:"pic"`
	Created     int64  `json:"created"`
	SeasonID    int64  `json:"season_id"`
}

// ViewData is the payload of the video detail endpoint.
type ViewData struct {
	AID      int64  `json:"aid"`
	BVID     string `json:"bvid"`
	CID      int64  `json:"cid"`
	Title    string `json:"title"`
	PubDate  int64  `json:"pubdate"`
	CTime    int64  `json:"ctime"`
	Duration int64  `json:"duration"`
	Owner    struct {
		MID  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"owner"`
	Pages []ViewPage `json:"pages"`
}

type ViewPage struct {
	CID      int64  `json:"cid"`
	Page     int    `json:"page"`
	Part     string `json:"part"`
	Duration int64  `json:"duration"`
	CTime    int64  `json:"ctime"`
}

type TagItem struct {
	TagID   int64  `json:"tag_id"`
	TagName string `json:"tag_name"`
}

package bilibili

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"video_archiver/internal/domain"
)

func transformItem(raw VListItem, mid int64) (domain.CatalogItem, error) {
	if raw.AID <= 0 {
		return domain.CatalogItem{}, errors.New("missing aid")
	}
	if raw.BVID == "" {
		return domain.CatalogItem{}, errors.New("missing bvid")
	}

	owner := raw.MID
	if owner == 0 {
		owner = mid
	}

	var seasonID *int64
	if raw.SeasonID != 0 {
		seasonID = &raw.SeasonID
	}

	return domain.CatalogItem{
		Creator: domain.Creator{
			MID:  owner,
			Name: raw.Author,
		},
		Video: domain.Video{
			AID:         raw.AID,
			BVID:        raw.BVID,
			MID:         owner,
			Title:       raw.Title,
			Description: optionalString(raw.Description),
			Pic:         optionalString(raw.Pic),
			Created:     unixTime(raw.Created),
			SeasonID:    seasonID,
		},
	}, nil
}

func transformParts(aid int64, data *ViewData) ([]domain.VideoPart, error) {
	if len(data.Pages) == 0 {
		if data.CID == 0 {
			return nil, errors.New("no pages and no cid")
		}
		ctime := data.CTime
		if ctime == 0 {
			ctime = data.PubDate
		}
		return []domain.VideoPart{{
			CID:      data.CID,
			AID:      aid,
			Page:     1,
			Part:     data.Title,
			Duration: seconds(data.Duration),
			CTime:    unixTime(ctime),
		}}, nil
	}

	parts := make([]domain.VideoPart, 0, len(data.Pages))
	pages := make(map[int]bool, len(data.Pages))
	for _, p := range data.Pages {
		if p.CID == 0 {
			return nil, fmt.Errorf("page %d without cid", p.Page)
		}
		if p.Page < 1 {
			return nil, fmt.Errorf("invalid page number %d", p.Page)
		}
		if pages[p.Page] {
			return nil, fmt.Errorf("duplicate page number %d", p.Page)
		}
		pages[p.Page] = true

		parts = append(parts, domain.VideoPart{
			CID:      p.CID,
			AID:      aid,
			Page:     p.Page,
			Part:     p.Part,
			Duration: seconds(p.Duration),
			CTime:    unixTime(p.CTime),
		})
	}
	return parts, nil
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func seconds(n int64) *time.Duration {
	if n <= 0 {
		return nil
	}
	d := time.Duration(n) * time.Second
	return &d
}

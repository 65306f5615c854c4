package bilibili

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"video_archiver/internal/domain"
)

// ListVideos walks a creator's public catalog page by page. The sequence is
// lazy and single-use; after the first error nothing more is yielded.
func (s *Source) ListVideos(ctx context.Context, mid int64) iter.Seq2[domain.CatalogItem, error] {
	return func(yield func(domain.CatalogItem, error) bool) {
		logger := s.logger.With("mid", mid)
		total := -1
		seen := 0

		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(domain.CatalogItem{}, err)
				return
			}

			data, err := s.fetchPage(ctx, mid, page)
			if err != nil {
				yield(domain.CatalogItem{}, fmt.Errorf("fetch catalog page %d: %w", page, err))
				return
			}

			if total < 0 {
				total = data.Page.Count
			}
			seen += len(data.List.VList)

			logger.Debug("fetched catalog page",
				"page", page,
				"items", len(data.List.VList),
				"total", total,
			)

			for _, raw := range data.List.VList {
				item, err := transformItem(raw, mid)
				if err != nil {
					logger.Warn("skipping catalog entry", "aid", raw.AID, "error", err)
					continue
				}
				if !yield(item, nil) {
					return
				}
			}

			if len(data.List.VList) == 0 || len(data.List.VList) < s.pageSize || (total > 0 && seen >= total) {
				return
			}
		}
	}
}

func (s *Source) fetchPage(ctx context.Context, mid int64, page int) (*SearchData, error) {
	params := url.Values{}
	params.Set("mid", strconv.FormatInt(mid, 10))
	params.Set("pn", strconv.Itoa(page))
	params.Set("ps", strconv.Itoa(s.pageSize))

	var data SearchData
	if err := s.get(ctx, searchPath, params, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

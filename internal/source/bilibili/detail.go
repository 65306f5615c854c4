package bilibili

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"video_archiver/internal/domain"
)

// Tags the platform attaches automatically to promoted videos.
var generatedTag = regexp.MustCompile(`^\$发现《.+?》\^$`)

// ListParts returns the parts of a video. Single-part uploads without a
// page list get one part built from the video itself.
func (s *Source) ListParts(ctx context.Context, aid int64) ([]domain.VideoPart, error) {
	params := url.Values{}
	params.Set("aid", strconv.FormatInt(aid, 10))

	var data ViewData
	if err := s.get(ctx, viewPath, params, &data); err != nil {
		return nil, fmt.Errorf("fetch detail %d: %w", aid, err)
	}

	parts, err := transformParts(aid, &data)
	if err != nil {
		return nil, fmt.Errorf("%w: detail %d: %w", domain.ErrPermanentFetch, aid, err)
	}
	return parts, nil
}

// ListTags returns the tag names of a video without generated promotion tags.
func (s *Source) ListTags(ctx context.Context, aid int64) ([]string, error) {
	params := url.Values{}
	params.Set("aid", strconv.FormatInt(aid, 10))

	var items []TagItem
	if err := s.get(ctx, tagPath, params, &items); err != nil {
		return nil, fmt.Errorf("fetch tags %d: %w", aid, err)
	}

	return filterTags(items), nil
}

func filterTags(items []TagItem) []string {
	tags := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.TagName)
		if name == "" || seen[name] || generatedTag.MatchString(name) {
			continue
		}
		seen[name] = true
		tags = append(tags, name)
	}
	return tags
}

// Package export renders the stored archive as the JSON documents served by
// the static presentation site.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"video_archiver/internal/domain"
	"video_archiver/internal/storage/postgres"
)

type VideoReader interface {
	Videos(ctx context.Context, filter postgres.ExportFilter) ([]domain.ArchivedVideo, error)
}

type Config struct {
	OutputDir string
	Location  *time.Location
	Statuses  []domain.TouhouStatus
}

// Record is one video in the exported document.
type Record struct {
	AID          int64    `json:"aid"`
	BVID         string   `json:"bvid"`
	Title        string   `json:"title"`
	Description  *string  `json:"description"`
	Pic          *string  `json:"pic"`
	Created      *int64   `json:"created"`
	Tags         []string `json:"tags"`
	TouhouStatus int      `json:"touhou_status"`
	UploaderName *string  `json:"uploader_name"`
	Parts        []Part   `json:"parts"`
}

type Part struct {
	CID      int64  `json:"cid"`
	Page     int    `json:"page"`
	Part     string `json:"part"`
	Duration *int64 `json:"duration"`
	CTime    *int64 `json:"ctime"`
}

type Result struct {
	Count       int
	LatestPath  string
	ArchivePath string
}

type Exporter struct {
	reader VideoReader
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func New(reader VideoReader, cfg Config, logger *slog.Logger) *Exporter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Exporter{
		reader: reader,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Export writes docs/data/videos.json and a dated copy under
// archives/YYYY-MM/videos_YYYYMMDD.json.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	videos, err := e.reader.Videos(ctx, postgres.ExportFilter{Statuses: e.cfg.Statuses})
	if err != nil {
		return nil, fmt.Errorf("read videos: %w", err)
	}

	records := make([]Record, 0, len(videos))
	for i := range videos {
		records = append(records, toRecord(&videos[i]))
	}

	now := e.now().In(e.cfg.Location)
	result := &Result{
		Count:       len(records),
		LatestPath:  filepath.Join(e.cfg.OutputDir, "docs", "data", "videos.json"),
		ArchivePath: filepath.Join(e.cfg.OutputDir, "archives", now.Format("2006-01"), "videos_"+now.Format("20060102")+".json"),
	}

	for _, path := range []string{result.LatestPath, result.ArchivePath} {
		if err := writeJSON(path, records); err != nil {
			return nil, err
		}
	}

	e.logger.Info("export completed",
		"videos", result.Count,
		"latest", result.LatestPath,
		"archive", result.ArchivePath,
	)

	return result, nil
}

func toRecord(v *domain.ArchivedVideo) Record {
	rec := Record{
		AID:          v.AID,
		BVID:         v.BVID,
		Title:        v.Title,
		Description:  v.Description,
		Pic:          v.Pic,
		Created:      unixSeconds(v.Created),
		Tags:         v.Tags,
		TouhouStatus: int(v.TouhouStatus),
		UploaderName: v.UploaderName,
		Parts:        make([]Part, 0, len(v.Parts)),
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	for _, p := range v.Parts {
		part := Part{
			CID:   p.CID,
			Page:  p.Page,
			Part:  p.Part,
			CTime: unixSeconds(p.CTime),
		}
		if p.Duration != nil {
			secs := int64(*p.Duration / time.Second)
			part.Duration = &secs
		}
		rec.Parts = append(rec.Parts, part)
	}
	return rec
}

func unixSeconds(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	sec := t.Unix()
	return &sec
}

// writeJSON replaces path atomically so the site never serves a torn file.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".videos-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

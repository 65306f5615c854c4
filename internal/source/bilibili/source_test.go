package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"video_archiver/internal/domain"
)

type noWait struct{ calls atomic.Int32 }

func (p *noWait) Wait(ctx context.Context) error {
	p.calls.Add(1)
	return ctx.Err()
}

type fakeSigner struct {
	err         error
	invalidated atomic.Int32
}

func (f *fakeSigner) Sign(_ context.Context, params url.Values) (url.Values, error) {
	if f.err != nil {
		return nil, f.err
	}
	signed := url.Values{}
	for k, v := range params {
		signed[k] = append([]string(nil), v...)
	}
	signed.Set("wts", "1700000000")
	signed.Set("w_rid", "deadbeef")
	return signed, nil
}

func (f *fakeSigner) Invalidate() {
	f.invalidated.Add(1)
}

type SourceSuite struct {
	suite.Suite
	server   *httptest.Server
	handler  http.HandlerFunc
	requests atomic.Int32
	pacer    *noWait
	signer   *fakeSigner
	source   *Source
}

func TestSourceSuite(t *testing.T) {
	suite.Run(t, new(SourceSuite))
}

func (s *SourceSuite) SetupTest() {
	s.requests.Store(0)
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.handler(w, r)
	}))
	s.pacer = &noWait{}
	s.signer = &fakeSigner{}
	s.source = s.newSource(20)
}

func (s *SourceSuite) TearDownTest() {
	s.server.Close()
}

func (s *SourceSuite) newSource(pageSize int) *Source {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(Config{
		BaseURL:        s.server.URL,
		UserAgent:      "archiver-test",
		PageSize:       pageSize,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, s.pacer, s.signer, logger)
}

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": "0",
		"data":    json.RawMessage(raw),
	})
}

// catalogHandler serves total items split into pages of the requested size.
func catalogHandler(mid int64, total int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pn, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		ps, _ := strconv.Atoi(r.URL.Query().Get("ps"))

		var vlist []map[string]any
		for i := (pn - 1) * ps; i < pn*ps && i < total; i++ {
			vlist = append(vlist, map[string]any{
				"aid":         1000 + i,
				"bvid":        fmt.Sprintf("BV1xx%04d", i),
				"mid":         mid,
				"author":      "uploader",
				"title":       fmt.Sprintf("video %d", i),
				"description": "",
				"pic":         "https://i0.hdslb.com/cover.jpg",
				"created":     1700000000 + i,
				"length":      "03:21",
				"play":        42,
			})
		}
		writeEnvelope(w, 0, map[string]any{
			"list": map[string]any{"vlist": vlist},
			"page": map[string]any{"pn": pn, "ps": ps, "count": total},
		})
	}
}

func (s *SourceSuite) collect(mid int64) ([]domain.CatalogItem, error) {
	var items []domain.CatalogItem
	for item, err := range s.source.ListVideos(context.Background(), mid) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SourceSuite) TestListVideos_Pagination() {
	s.handler = catalogHandler(7, 25)

	items, err := s.collect(7)

	s.Require().NoError(err)
	s.Len(items, 25)
	s.Equal(int32(2), s.requests.Load())
	s.Equal(int64(1000), items[0].Video.AID)
	s.Equal(int64(1024), items[24].Video.AID)
	s.Equal("uploader", items[0].Creator.Name)
	s.Equal(int64(7), items[0].Video.MID)
	s.Nil(items[0].Video.Description)
	s.Nil(items[0].Video.SeasonID)
	s.Require().NotNil(items[3].Video.Created)
	s.Equal(int64(1700000003), items[3].Video.Created.Unix())
}

func (s *SourceSuite) TestListVideos_StopsAtExactTotal() {
	s.handler = catalogHandler(7, 40)

	items, err := s.collect(7)

	s.Require().NoError(err)
	s.Len(items, 40)
	s.Equal(int32(2), s.requests.Load())
}

func (s *SourceSuite) TestListVideos_EmptyCatalog() {
	s.handler = catalogHandler(7, 0)

	items, err := s.collect(7)

	s.Require().NoError(err)
	s.Empty(items)
	s.Equal(int32(1), s.requests.Load())
}

func (s *SourceSuite) TestListVideos_SignsAndPacesEveryRequest() {
	inner := catalogHandler(7, 5)
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/x/space/wbi/arc/search", r.URL.Path)
		s.Equal("deadbeef", r.URL.Query().Get("w_rid"))
		s.Equal("7", r.URL.Query().Get("mid"))
		s.Equal("20", r.URL.Query().Get("ps"))
		s.Equal("archiver-test", r.Header.Get("User-Agent"))
		inner(w, r)
	}

	_, err := s.collect(7)

	s.Require().NoError(err)
	s.Equal(int32(1), s.pacer.calls.Load())
}

func (s *SourceSuite) TestListVideos_ConsumerStopsEarly() {
	s.handler = catalogHandler(7, 100)

	count := 0
	for _, err := range s.source.ListVideos(context.Background(), 7) {
		s.Require().NoError(err)
		count++
		if count == 3 {
			break
		}
	}

	s.Equal(3, count)
	s.Equal(int32(1), s.requests.Load())
}

func (s *SourceSuite) TestListVideos_SkipsMalformedEntries() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, map[string]any{
			"list": map[string]any{"vlist": []map[string]any{
				{"aid": 1, "bvid": "BV1a", "title": "ok"},
				{"aid": 0, "bvid": "BV1b", "title": "no aid"},
			}},
			"page": map[string]any{"pn": 1, "ps": 20, "count": 2},
		})
	}

	items, err := s.collect(7)

	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("BV1a", items[0].Video.BVID)
}

func (s *SourceSuite) TestListVideos_YieldsSingleError() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}

	errs := 0
	for _, err := range s.source.ListVideos(context.Background(), 7) {
		s.Require().Error(err)
		s.ErrorIs(err, domain.ErrPermanentFetch)
		errs++
	}

	s.Equal(1, errs)
	s.Equal(int32(1), s.requests.Load())
}

func (s *SourceSuite) TestListVideos_CanceledContext() {
	s.handler = catalogHandler(7, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got error
	for _, err := range s.source.ListVideos(ctx, 7) {
		got = err
	}

	s.ErrorIs(got, context.Canceled)
	s.Equal(int32(0), s.requests.Load())
}

func (s *SourceSuite) TestRetry_TransientStatusThenSuccess() {
	inner := catalogHandler(7, 3)
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		if s.requests.Load() == 1 {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		inner(w, r)
	}

	items, err := s.collect(7)

	s.Require().NoError(err)
	s.Len(items, 3)
	s.Equal(int32(2), s.requests.Load())
	s.Equal(int32(2), s.pacer.calls.Load(), "every attempt goes through the pacer")
}

func (s *SourceSuite) TestRetry_ExhaustedIsPermanent() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_, err := s.source.ListParts(context.Background(), 1)

	s.Require().Error(err)
	s.ErrorIs(err, domain.ErrPermanentFetch)
	s.Equal(int32(3), s.requests.Load())
}

func (s *SourceSuite) TestRetry_ThrottleCodes() {
	for _, code := range []int{-412, -799} {
		s.Run(strconv.Itoa(code), func() {
			s.requests.Store(0)
			s.handler = func(w http.ResponseWriter, r *http.Request) {
				if s.requests.Load() == 1 {
					writeEnvelope(w, code, nil)
					return
				}
				writeEnvelope(w, 0, []map[string]any{{"tag_id": 1, "tag_name": "music"}})
			}

			tags, err := s.source.ListTags(context.Background(), 1)

			s.Require().NoError(err)
			s.Equal([]string{"music"}, tags)
			s.Equal(int32(2), s.requests.Load())
		})
	}
}

func (s *SourceSuite) TestRetry_RiskControlInvalidatesKeys() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		if s.requests.Load() == 1 {
			writeEnvelope(w, -352, nil)
			return
		}
		writeEnvelope(w, 0, []map[string]any{})
	}

	tags, err := s.source.ListTags(context.Background(), 1)

	s.Require().NoError(err)
	s.Empty(tags)
	s.Equal(int32(1), s.signer.invalidated.Load())
}

func (s *SourceSuite) TestPermanentFailures() {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"api code", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, -404, nil)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":0,"data":`))
		}},
		{"null data", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":0,"data":null}`))
		}},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.requests.Store(0)
			s.handler = tc.handler

			_, err := s.source.ListParts(context.Background(), 1)

			s.Require().Error(err)
			s.ErrorIs(err, domain.ErrPermanentFetch)
			s.NotErrorIs(err, domain.ErrTransientFetch)
			s.Equal(int32(1), s.requests.Load())
		})
	}
}

func (s *SourceSuite) TestSigningUnavailablePropagates() {
	s.signer.err = fmt.Errorf("%w: fetch keys: boom", domain.ErrSigningUnavailable)
	s.handler = catalogHandler(7, 5)

	_, err := s.collect(7)

	s.Require().Error(err)
	s.ErrorIs(err, domain.ErrSigningUnavailable)
	s.NotErrorIs(err, domain.ErrPermanentFetch)
	s.Equal(int32(0), s.requests.Load())
}

func (s *SourceSuite) TestListParts_Pages() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/x/web-interface/view", r.URL.Path)
		s.Equal("99", r.URL.Query().Get("aid"))
		writeEnvelope(w, 0, map[string]any{
			"aid":      99,
			"cid":      500,
			"title":    "two parts",
			"duration": 300,
			"pages": []map[string]any{
				{"cid": 500, "page": 1, "part": "P1", "duration": 120, "ctime": 1700000000},
				{"cid": 501, "page": 2, "part": "P2", "duration": 180},
			},
		})
	}

	parts, err := s.source.ListParts(context.Background(), 99)

	s.Require().NoError(err)
	s.Require().Len(parts, 2)
	s.Equal(int64(500), parts[0].CID)
	s.Equal(int64(99), parts[0].AID)
	s.Equal("P1", parts[0].Part)
	s.Require().NotNil(parts[0].Duration)
	s.Equal(120*time.Second, *parts[0].Duration)
	s.Require().NotNil(parts[0].CTime)
	s.Equal(int64(1700000000), parts[0].CTime.Unix())
	s.Equal(2, parts[1].Page)
	s.Nil(parts[1].CTime)
}

func (s *SourceSuite) TestListParts_SynthesizesSinglePart() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, map[string]any{
			"aid":      99,
			"cid":      777,
			"title":    "single",
			"duration": 61,
			"ctime":    1690000000,
		})
	}

	parts, err := s.source.ListParts(context.Background(), 99)

	s.Require().NoError(err)
	s.Require().Len(parts, 1)
	s.Equal(int64(777), parts[0].CID)
	s.Equal(1, parts[0].Page)
	s.Equal("single", parts[0].Part)
	s.Equal(61*time.Second, *parts[0].Duration)
	s.Equal(int64(1690000000), parts[0].CTime.Unix())
}

func (s *SourceSuite) TestListParts_DuplicatePageIsPermanent() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, map[string]any{
			"aid": 99,
			"pages": []map[string]any{
				{"cid": 1, "page": 1},
				{"cid": 2, "page": 1},
			},
		})
	}

	_, err := s.source.ListParts(context.Background(), 99)

	s.ErrorIs(err, domain.ErrPermanentFetch)
}

func TestFilterTags(t *testing.T) {
	tags := filterTags([]TagItem{
		{TagName: "东方"},
		{TagName: "$发现《某个活动》^"},
		{TagName: " 音乐 "},
		{TagName: "东方"},
		{TagName: ""},
	})

	assert.Equal(t, []string{"东方", "音乐"}, tags)
}

func TestCalculateBackoff(t *testing.T) {
	s := &Source{initialBackoff: 2 * time.Second, maxBackoff: 10 * time.Second}

	assert.Equal(t, 2*time.Second, s.calculateBackoff(1))
	assert.Equal(t, 4*time.Second, s.calculateBackoff(2))
	assert.Equal(t, 8*time.Second, s.calculateBackoff(3))
	assert.Equal(t, 10*time.Second, s.calculateBackoff(4))
}

func TestIsRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusPreconditionFailed:  true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusNotFound:            false,
		http.StatusForbidden:           false,
	} {
		require.Equal(t, want, isRetryableStatus(code), "status %d", code)
	}
}

func (s *SourceSuite) TestRetry_ExhaustionKeepsTransientCause() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	_, err := s.source.ListTags(context.Background(), 1)

	s.ErrorIs(err, domain.ErrPermanentFetch)
	s.ErrorIs(err, domain.ErrTransientFetch)
	s.ErrorContains(err, "after 3 attempts")
}

func (s *SourceSuite) TestListVideos_MissingTotalWalksUntilShortPage() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		pn, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		size := 20
		if pn == 2 {
			size = 4
		}
		vlist := make([]map[string]any, 0, size)
		for i := range size {
			aid := pn*100 + i
			vlist = append(vlist, map[string]any{"aid": aid, "bvid": fmt.Sprintf("BV%d", aid)})
		}
		writeEnvelope(w, 0, map[string]any{"list": map[string]any{"vlist": vlist}})
	}

	items, err := s.collect(7)

	s.Require().NoError(err)
	s.Len(items, 24)
	s.Equal(int32(2), s.requests.Load())
}

package signer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video_archiver/internal/domain"
)

var docKeys = Keys{
	ImgKey: "7cd084941338484aae1ad9425b84077c",
	SubKey: "4932caff0ff746eab6f01bf08b70ac45",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMixinKey(t *testing.T) {
	assert.Equal(t, "ea1db124af3c7062474693fa704f4ff8", MixinKey(docKeys))
}

func TestSign_KnownVector(t *testing.T) {
	params := url.Values{}
	params.Set("foo", "114")
	params.Set("bar", "514")
	params.Set("zab", "1919810")

	signed := Sign(params, MixinKey(docKeys), time.Unix(1702204169, 0))

	assert.Equal(t, "1702204169", signed.Get(ParamTimestamp))
	assert.Equal(t, "8f6f2b5b3d485fe1886cec6a0be8c5d4", signed.Get(ParamSignature))
	assert.Equal(t, "114", signed.Get("foo"))
	assert.Empty(t, params.Get(ParamTimestamp), "input must not be modified")
}

func TestSign_StripsReservedCharacters(t *testing.T) {
	params := url.Values{}
	params.Set("mid", "123")
	params.Set("keyword", "a b!(c)*'d")

	signed := Sign(params, MixinKey(docKeys), time.Unix(1700000000, 0))

	assert.Equal(t, "a bcd", signed.Get("keyword"))
	assert.Equal(t, "2aecc73c86cb432bac173bfe9e596544", signed.Get(ParamSignature))
}

func TestSign_Deterministic(t *testing.T) {
	ts := time.Unix(1710000000, 0)
	mixin := MixinKey(docKeys)

	params := url.Values{}
	params.Set("mid", "66508")
	params.Set("pn", "3")
	params.Set("ps", "50")

	first := Sign(params, mixin, ts)
	second := Sign(params, mixin, ts)
	assert.Equal(t, first.Get(ParamSignature), second.Get(ParamSignature))

	// Re-submitting already signed parameters reproduces the same signature.
	again := Sign(first, mixin, ts)
	assert.Equal(t, first.Get(ParamSignature), again.Get(ParamSignature))

	later := Sign(params, mixin, ts.Add(time.Second))
	assert.NotEqual(t, first.Get(ParamSignature), later.Get(ParamSignature))
}

func TestKeyCache_Fresh(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newKeyCache(docKeys, now, time.Hour)

	assert.True(t, c.Fresh(now))
	assert.True(t, c.Fresh(now.Add(59*time.Minute)))
	assert.False(t, c.Fresh(now.Add(time.Hour)))

	var empty *KeyCache
	assert.False(t, empty.Fresh(now))
}

type stubSource struct {
	keys  Keys
	err   error
	calls int
}

func (s *stubSource) FetchKeys(context.Context) (Keys, error) {
	s.calls++
	return s.keys, s.err
}

func TestSigner_CachesUntilExpiry(t *testing.T) {
	src := &stubSource{keys: docKeys}
	s := New(src, time.Hour, testLogger())
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Sign(ctx, url.Values{"mid": {"1"}})
	require.NoError(t, err)
	_, err = s.Sign(ctx, url.Values{"mid": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	now = now.Add(2 * time.Hour)
	_, err = s.Sign(ctx, url.Values{"mid": {"3"}})
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	s.Invalidate()
	_, err = s.Sign(ctx, url.Values{"mid": {"4"}})
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestSigner_SourceFailure(t *testing.T) {
	s := New(&stubSource{err: errors.New("connection refused")}, time.Hour, testLogger())

	_, err := s.Sign(context.Background(), url.Values{})
	assert.ErrorIs(t, err, domain.ErrSigningUnavailable)
	assert.ErrorContains(t, err, "connection refused")
}

func TestSigner_MalformedKeys(t *testing.T) {
	s := New(&stubSource{keys: Keys{ImgKey: "short", SubKey: "keys"}}, time.Hour, testLogger())

	_, err := s.Sign(context.Background(), url.Values{})
	assert.ErrorIs(t, err, domain.ErrSigningUnavailable)
}

type noWait struct{}

func (noWait) Wait(context.Context) error { return nil }

func TestNavKeySource_FetchKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x/web-interface/nav", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":-101,"message":"账号未登录","data":{"isLogin":false,"wbi_img":{
			"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png",
			"sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`))
	}))
	defer srv.Close()

	src := NewNavKeySource(srv.Client(), srv.URL+"/x/web-interface/nav", "test-agent", noWait{})
	keys, err := src.FetchKeys(context.Background())

	require.NoError(t, err)
	assert.Equal(t, docKeys, keys)
}

func TestNavKeySource_MissingKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
	}))
	defer srv.Close()

	src := NewNavKeySource(srv.Client(), srv.URL, "test-agent", noWait{})
	_, err := src.FetchKeys(context.Background())

	assert.ErrorContains(t, err, "without keys")
}

func TestNavKeySource_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(NewNavKeySource(srv.Client(), srv.URL, "test-agent", noWait{}), time.Hour, testLogger())
	_, err := s.Sign(context.Background(), url.Values{})

	assert.ErrorIs(t, err, domain.ErrSigningUnavailable)
	assert.ErrorContains(t, err, "unexpected status: 502")
}

package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
)

type Pacer interface {
	Wait(ctx context.Context) error
}

// NavKeySource reads the rotating keys from the unauthenticated nav
// endpoint. The endpoint answers with a non-zero code when no session
// cookie is sent, but still carries the keys.
type NavKeySource struct {
	httpClient *http.Client
	url        string
	userAgent  string
	pacer      Pacer
}

func NewNavKeySource(httpClient *http.Client, url, userAgent string, pacer Pacer) *NavKeySource {
	return &NavKeySource{
		httpClient: httpClient,
		url:        url,
		userAgent:  userAgent,
		pacer:      pacer,
	}
}

type navResponse struct {
	Code int `json:"code"`
	Data struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	} `json:"data"`
}

func (n *NavKeySource) FetchKeys(ctx context.Context) (Keys, error) {
	if err := n.pacer.Wait(ctx); err != nil {
		return Keys{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.url, nil)
	if err != nil {
		return Keys{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Referer", "https://www.bilibili.com/")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Keys{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Keys{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var nav navResponse
	if err := json.NewDecoder(resp.Body).Decode(&nav); err != nil {
		return Keys{}, fmt.Errorf("decode response: %w", err)
	}

	imgKey := keyFromURL(nav.Data.WbiImg.ImgURL)
	subKey := keyFromURL(nav.Data.WbiImg.SubURL)
	if imgKey == "" || subKey == "" {
		return Keys{}, fmt.Errorf("response without keys (code %d)", nav.Code)
	}

	return Keys{ImgKey: imgKey, SubKey: subKey}, nil
}

// keyFromURL returns the file stem of an image URL:
// https://i0.hdslb.com/bfs/wbi/7cd0...077c.png -> 7cd0...077c
func keyFromURL(raw string) string {
	base := path.Base(raw)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

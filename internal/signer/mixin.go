package signer

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ParamTimestamp = "wts"
	ParamSignature = "w_rid"
)

// mixinKeyEncTab reorders the 64 characters of img_key+sub_key.
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49,
	33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40,
	61, 26, 17, 0, 1, 60, 51, 30, 4, 22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11,
	36, 20, 34, 44, 52,
}

// Keys are the two rotating secrets published by the bootstrap endpoint.
type Keys struct {
	ImgKey string
	SubKey string
}

// MixinKey derives the 32-character salt from the two keys. Positions past
// the end of a short input are skipped.
func MixinKey(k Keys) string {
	orig := k.ImgKey + k.SubKey
	var sb strings.Builder
	for _, i := range mixinKeyEncTab {
		if i < len(orig) {
			sb.WriteByte(orig[i])
		}
	}
	key := sb.String()
	if len(key) > 32 {
		key = key[:32]
	}
	return key
}

var stripChars = strings.NewReplacer("!", "", "'", "", "(", "", ")", "", "*", "")

// Sign returns a copy of params with the timestamp and signature added.
// The input is not modified.
func Sign(params url.Values, mixinKey string, ts time.Time) url.Values {
	signed := make(url.Values, len(params)+2)
	for k, vs := range params {
		if k == ParamSignature {
			continue
		}
		cleaned := make([]string, len(vs))
		for i, v := range vs {
			cleaned[i] = stripChars.Replace(v)
		}
		signed[k] = cleaned
	}
	signed.Set(ParamTimestamp, strconv.FormatInt(ts.Unix(), 10))

	// Encode sorts by key.
	sum := md5.Sum([]byte(signed.Encode() + mixinKey))
	signed.Set(ParamSignature, hex.EncodeToString(sum[:]))
	return signed
}

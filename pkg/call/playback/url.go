package playback

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

// ResolveURL turns an audio reference into one fetchable URL. Absolute http(s)
// and data: references are returned unchanged; server-relative paths are
// appended to baseURL's path.
func ResolveURL(baseURL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", core.NewInvalidRequestError("audio reference must not be empty")
	}
	if strings.HasPrefix(strings.ToLower(ref), "data:") {
		return ref, nil
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid audio reference")
	}
	switch strings.ToLower(refURL.Scheme) {
	case "http", "https":
		if refURL.Host == "" {
			return "", core.NewInvalidRequestError("audio URL has no host")
		}
		return refURL.String(), nil
	case "":
	default:
		return "", core.NewInvalidRequestError("unsupported audio URL scheme " + refURL.Scheme)
	}

	rawBaseURL := strings.TrimSpace(baseURL)
	if rawBaseURL == "" {
		return "", core.NewInvalidRequestError("relative audio path requires a base URL")
	}
	base, err := url.Parse(rawBaseURL)
	if err != nil || strings.TrimSpace(base.Scheme) == "" || strings.TrimSpace(base.Host) == "" {
		return "", core.NewInvalidRequestError("invalid audio base URL")
	}

	// Protocol-relative reference: keep its host, borrow the base scheme.
	if refURL.Host != "" {
		refURL.Scheme = base.Scheme
		return refURL.String(), nil
	}

	base.RawQuery = refURL.RawQuery
	base.Fragment = ""
	cleanPath := "/" + strings.TrimLeft(refURL.Path, "/")
	basePath := strings.TrimSuffix(base.Path, "/")
	if basePath == "" || basePath == "/" {
		base.Path = cleanPath
	} else {
		base.Path = basePath + cleanPath
	}
	base.RawPath = ""
	return base.String(), nil
}

// ResolveAudio resolves ref to a URL. Inline audio becomes a base64 data URL.
func ResolveAudio(baseURL string, ref types.AudioRef) (string, error) {
	switch ref.Kind {
	case types.AudioURL:
		return ResolveURL(baseURL, ref.URL)
	case types.AudioInline:
		if len(ref.Data) == 0 {
			return "", core.NewInvalidRequestError("inline audio is empty")
		}
		mime := strings.TrimSpace(ref.MIMEType)
		if mime == "" {
			mime = "audio/mpeg"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(ref.Data), nil
	default:
		return "", core.NewInvalidRequestError("message has no audio")
	}
}

// DecodeDataURL returns the payload of a data: URL produced by ResolveAudio.
func DecodeDataURL(raw string) ([]byte, error) {
	comma := strings.IndexByte(raw, ',')
	if comma < 0 || !strings.HasPrefix(strings.ToLower(raw), "data:") {
		return nil, core.NewInvalidRequestError("malformed data URL")
	}
	meta, payload := raw[len("data:"):comma], raw[comma+1:]
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, core.NewInvalidRequestError("malformed base64 audio")
	}
	return data, nil
}

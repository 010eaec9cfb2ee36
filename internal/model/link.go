package model

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// LinkKind names a downloadable artifact.
type LinkKind string

// Artifact kinds.
const (
	LinkSummary LinkKind = "summary"
	LinkReport  LinkKind = "report"
)

// ErrEmptyLink is returned when a signing endpoint answers without a URL.
var ErrEmptyLink = errors.New("signing endpoint returned an empty url")

// DownloadLink is a resolved, time-limited signed URL for an artifact.
type DownloadLink struct {
	Expires time.Time
	Kind    LinkKind
	URL     string
}

// NewDownloadLink builds a link from the URL handed out by a signing
// endpoint. An "expires" query parameter, when present, is read as unix
// seconds.
func NewDownloadLink(kind LinkKind, raw string) (DownloadLink, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DownloadLink{}, ErrEmptyLink
	}

	u, err := url.Parse(raw)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("invalid signed url %q: %w", raw, err)
	}

	link := DownloadLink{Kind: kind, URL: raw}
	if exp := u.Query().Get("expires"); exp != "" {
		secs, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return DownloadLink{}, fmt.Errorf("invalid expires %q in signed url: %w", exp, err)
		}
		link.Expires = time.Unix(secs, 0)
	}

	return link, nil
}

// Renderable reports whether the link may be shown as clickable at now.
func (l DownloadLink) Renderable(now time.Time) bool {
	if l.URL == "" {
		return false
	}
	return l.Expires.IsZero() || now.Before(l.Expires)
}

// Absolute resolves the signed URL against the service base URL.
func (l DownloadLink) Absolute(base *url.URL) (string, error) {
	ref, err := url.Parse(l.URL)
	if err != nil {
		return "", fmt.Errorf("invalid signed url %q: %w", l.URL, err)
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

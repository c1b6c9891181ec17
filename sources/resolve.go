package sources

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultSpotifyOEmbedURL = "https://open.spotify.com"
	DefaultDeezerAPIURL     = "https://api.deezer.com"
	resolveTimeout          = 10 * time.Second
	searchPrefix            = "ytsearch1:"
)

var deezerTrackPattern = regexp.MustCompile(`/track/(\d+)`)

// Resolver turns a catalogue URL into a free-text search query that a
// search-capable fetcher can download.
type Resolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// Resolved fetches catalogue-only sources (no direct media) by resolving the
// track to a search query and handing it to a search-capable adapter.
type Resolved struct {
	Resolver Resolver
	Fetcher  Adapter
}

// NewResolved creates an adapter that resolves with r and fetches with f
func NewResolved(r Resolver, f Adapter) *Resolved {
	return &Resolved{Resolver: r, Fetcher: f}
}

// Fetch resolves url and downloads the best search match.
func (r *Resolved) Fetch(ctx context.Context, url string, progress ProgressFunc) (string, error) {
	query, err := r.Resolver.Resolve(ctx, url)
	if err != nil {
		return "", err
	}
	return r.Fetcher.Fetch(ctx, searchPrefix+query, progress)
}

// SpotifyResolver reads track titles from Spotify's public oEmbed endpoint.
type SpotifyResolver struct {
	client *resty.Client
}

// NewSpotifyResolver creates a resolver against baseURL
func NewSpotifyResolver(baseURL string) *SpotifyResolver {
	if baseURL == "" {
		baseURL = DefaultSpotifyOEmbedURL
	}
	return &SpotifyResolver{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(resolveTimeout),
	}
}

type spotifyOEmbed struct {
	Title string `json:"title"`
}

// Resolve returns the track title for a Spotify track URL.
func (s *SpotifyResolver) Resolve(ctx context.Context, url string) (string, error) {
	var out spotifyOEmbed
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("url", url).
		SetResult(&out).
		Get("/oembed")
	if err != nil {
		return "", fmt.Errorf("spotify lookup failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("spotify lookup failed: %s", resp.Status())
	}
	if strings.TrimSpace(out.Title) == "" {
		return "", errors.New("spotify lookup returned no title")
	}
	return out.Title, nil
}

// DeezerResolver reads track details from the public Deezer API.
type DeezerResolver struct {
	client *resty.Client
}

// NewDeezerResolver creates a resolver against baseURL
func NewDeezerResolver(baseURL string) *DeezerResolver {
	if baseURL == "" {
		baseURL = DefaultDeezerAPIURL
	}
	return &DeezerResolver{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(resolveTimeout),
	}
}

type deezerTrack struct {
	Title  string `json:"title"`
	Artist struct {
		Name string `json:"name"`
	} `json:"artist"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Resolve returns "artist - title" for a Deezer track URL.
func (d *DeezerResolver) Resolve(ctx context.Context, url string) (string, error) {
	m := deezerTrackPattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("not a deezer track url: %s", url)
	}

	var out deezerTrack
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/track/" + m[1])
	if err != nil {
		return "", fmt.Errorf("deezer lookup failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("deezer lookup failed: %s", resp.Status())
	}
	// The API reports lookup errors with a 200 status.
	if out.Error != nil {
		return "", fmt.Errorf("deezer lookup failed: %s", out.Error.Message)
	}
	if out.Title == "" {
		return "", errors.New("deezer lookup returned no title")
	}
	if out.Artist.Name == "" {
		return out.Title, nil
	}
	return out.Artist.Name + " - " + out.Title, nil
}

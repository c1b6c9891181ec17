package sources

import (
	"net/url"
	"strings"
)

const (
	TagYouTube    = "youtube"
	TagSoundCloud = "soundcloud"
	TagSpotify    = "spotify"
	TagDeezer     = "deezer"
)

var hostTags = map[string]string{
	"youtube.com":       TagYouTube,
	"youtu.be":          TagYouTube,
	"music.youtube.com": TagYouTube,
	"soundcloud.com":    TagSoundCloud,
	"open.spotify.com":  TagSpotify,
	"spotify.com":       TagSpotify,
	"deezer.com":        TagDeezer,
	"deezer.page.link":  TagDeezer,
}

// DetectTag guesses the source tag from the host of rawURL. It returns an
// empty string when the host is not recognised.
func DetectTag(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	if tag, ok := hostTags[host]; ok {
		return tag
	}
	return ""
}

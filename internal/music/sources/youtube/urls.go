package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

var youtubeURLPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.|music\.|m\.)?(youtube\.com|youtu\.be)/\S+`)

func isYouTubeURL(input string) bool {
	return youtubeURLPattern.MatchString(input)
}

// playlistID returns the list= parameter of a YouTube URL. Auto-generated mixes
// ("RD...") are not treated as playlists because the API cannot page them.
func playlistID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	id := u.Query().Get("list")
	if strings.HasPrefix(id, "RD") {
		return ""
	}
	return id
}

// videoID extracts the 11 character id from watch, short and shorts URLs.
func videoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch u.Hostname() {
	case "youtu.be":
		return strings.Trim(u.Path, "/")
	case "www.youtube.com", "youtube.com", "music.youtube.com", "m.youtube.com":
		if u.Path == "/watch" {
			return u.Query().Get("v")
		}
		if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			return strings.Trim(rest, "/")
		}
	}
	return ""
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func removeDuplicates(input []string) []string {
	seen := make(map[string]struct{}, len(input))
	var result []string
	for _, s := range input {
		if _, exists := seen[s]; !exists {
			seen[s] = struct{}{}
			result = append(result, s)
		}
	}
	return result
}

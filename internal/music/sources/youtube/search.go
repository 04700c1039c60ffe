package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
)

var watchIDPattern = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)

// searchIDs scrapes the results page and returns up to limit unique video ids
// in page order.
func (s *Source) searchIDs(ctx context.Context, query string, limit int) ([]string, error) {
	searchURL := fmt.Sprintf("%s/results?search_query=%s", s.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube search failed with status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, m := range watchIDPattern.FindAllStringSubmatch(string(body), -1) {
		ids = append(ids, m[1])
	}
	ids = removeDuplicates(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

package market

import (
	"context"
	"fmt"
)

type cryptoPanicResponse struct {
	Results []struct {
		Title string `json:"title"`
	} `json:"results"`
}

// fetchNews returns {headlines, count, source}. When no API key is
// configured, it returns (nil, false, nil) rather than an error — news is
// strictly supplemental.
func (s *Source) fetchNews(ctx context.Context) (map[string]any, bool, error) {
	if s.CryptoPanicAPIKey == "" {
		return nil, false, nil
	}
	url := fmt.Sprintf("%s/posts/?auth_token=%s&currencies=BTC,ETH&public=true", s.CryptoPanicBase, s.CryptoPanicAPIKey)
	var resp cryptoPanicResponse
	if err := s.getJSON(ctx, url, &resp); err != nil {
		return nil, false, err
	}

	headlines := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		headlines = append(headlines, r.Title)
	}
	return map[string]any{
		"headlines": headlines,
		"count":     len(headlines),
		"source":    "cryptopanic",
	}, true, nil
}

package market

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type fearGreedResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
		Timestamp           string `json:"timestamp"`
	} `json:"data"`
}

// fetchFearGreed returns {value, classification, ts} from alternative.me.
func (s *Source) fetchFearGreed(ctx context.Context) (map[string]any, bool, error) {
	url := fmt.Sprintf("%s/fng/?limit=1", s.FearGreedBase)
	var resp fearGreedResponse
	if err := s.getJSON(ctx, url, &resp); err != nil {
		return nil, false, err
	}
	if len(resp.Data) == 0 {
		return nil, false, nil
	}
	latest := resp.Data[0]
	value, err := strconv.Atoi(latest.Value)
	if err != nil {
		return nil, false, fmt.Errorf("market: parse fear/greed value: %w", err)
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	if secs, err := strconv.ParseInt(latest.Timestamp, 10, 64); err == nil {
		ts = time.Unix(secs, 0).UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"value":          value,
		"classification": latest.ValueClassification,
		"ts":             ts,
	}, true, nil
}

package images

import (
	"context"

	"github.com/imgpipe/imgpipe/pkg/db"
)

// Statistics summarizes the image table. Total always equals the sum of
// the four canonical buckets plus Other.
type Statistics struct {
	Total                int            `json:"total_images"`
	Pending              int            `json:"pending"`
	Processing           int            `json:"processing"`
	Completed            int            `json:"completed"`
	Error                int            `json:"error"`
	Other                int            `json:"other"`
	ByStatus             map[string]int `json:"by_status"`
	MostPopularOperation string         `json:"most_popular_operation"`
}

// Stats reads the aggregate counts.
func (s *Service) Stats(ctx context.Context) (*Statistics, error) {
	raw, err := s.store.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	out := &Statistics{
		Total:                raw.Total,
		ByStatus:             raw.ByStatus,
		MostPopularOperation: raw.MostPopularOperation,
	}
	if out.ByStatus == nil {
		out.ByStatus = map[string]int{}
	}
	for status, n := range out.ByStatus {
		switch status {
		case db.StatusPending:
			out.Pending = n
		case db.StatusProcessing:
			out.Processing = n
		case db.StatusCompleted:
			out.Completed = n
		case db.StatusError:
			out.Error = n
		default:
			out.Other += n
		}
	}
	return out, nil
}

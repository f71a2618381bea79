package analytics

import (
	"context"
	"time"

	"aurox-gatekeeper/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

// SuccessRate is the share of finished verification attempts that passed.
func (r Report) SuccessRate(success, failed, expired string) float64 {
	done := r.ByEvent[success] + r.ByEvent[failed] + r.ByEvent[expired]
	if done == 0 {
		return 0
	}
	return float64(r.ByEvent[success]) / float64(done)
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

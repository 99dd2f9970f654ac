package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"sentinel-automod/internal/storage"
)

type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
	// ByRule counts punishments per filter, parsed from the audit details.
	ByRule map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int), ByRule: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
		if rule := detailField(log.Details, "rule"); rule != "" {
			report.ByRule[rule]++
		}
	}
	return report, nil
}

// TopRules returns the n rules with the most entries, ties broken by name.
func (r Report) TopRules(n int) []string {
	rules := make([]string, 0, len(r.ByRule))
	for rule := range r.ByRule {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if r.ByRule[rules[i]] != r.ByRule[rules[j]] {
			return r.ByRule[rules[i]] > r.ByRule[rules[j]]
		}
		return rules[i] < rules[j]
	})
	if n > 0 && len(rules) > n {
		rules = rules[:n]
	}
	return rules
}

func detailField(details, key string) string {
	for _, part := range strings.Fields(details) {
		if value, ok := strings.CutPrefix(part, key+"="); ok {
			return value
		}
	}
	return ""
}

package alerting

import (
	"sort"
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// IncorporateFeedback validates feedback and turns it into one tuning signal
// per change type of the alert. Alerts without changes produce a single
// signal keyed by the alert kind.
func IncorporateFeedback(alert domain.Alert, feedback string, now time.Time) ([]domain.FeedbackSignal, error) {
	fb, err := domain.ParseFeedback(feedback)
	if err != nil {
		return nil, err
	}

	types := make(map[string]struct{})
	for _, c := range alert.Changes {
		types[string(c.Type)] = struct{}{}
	}
	if len(types) == 0 {
		key := string(alert.Kind)
		if len(alert.Findings) > 0 {
			key = "anomaly"
		}
		types[key] = struct{}{}
	}

	keys := make([]string, 0, len(types))
	for k := range types {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	signals := make([]domain.FeedbackSignal, 0, len(keys))
	for _, k := range keys {
		signals = append(signals, domain.FeedbackSignal{
			MonitorID:  alert.MonitorID,
			AlertID:    alert.ID,
			ChangeType: k,
			Feedback:   fb,
			Urgency:    alert.Urgency,
			Score:      alert.PriorityScore,
			RecordedAt: now.UTC(),
		})
	}
	return signals, nil
}

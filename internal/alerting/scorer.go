package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/stats"
)

// Weights are the static multipliers of the four 0-10 score components.
type Weights struct {
	Anomaly    float64
	Change     float64
	Importance float64
	Priority   float64
}

// DefaultWeights returns 40/30/20/10.
func DefaultWeights() Weights {
	return Weights{Anomaly: 0.4, Change: 0.3, Importance: 0.2, Priority: 0.1}
}

// ScoreConfig carries the per-monitor inputs of a score.
type ScoreConfig struct {
	AlertThreshold float64
	PriorityTypes  []string
}

// Result is a scored change set.
type Result struct {
	PriorityScore float64
	Urgency       domain.Urgency
	Reasoning     []string
	ShouldNotify  bool
}

// Scorer computes priority scores.
type Scorer struct {
	weights Weights
}

// NewScorer builds a Scorer; zero weights fall back to the defaults.
func NewScorer(w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Scorer{weights: w}
}

// Score combines anomaly severity, change volume, change importance and the
// user's priority types into a 0-10 score.
func (s *Scorer) Score(changes []domain.Change, findings []domain.AnomalyFinding, cfg ScoreConfig) Result {
	var reasoning []string

	anomaly := 0.0
	var worst *domain.AnomalyFinding
	for i := range findings {
		if findings[i].Severity > anomaly {
			anomaly = findings[i].Severity
			worst = &findings[i]
		}
	}
	anomaly = stats.Clamp(anomaly, 0, 10)
	if worst != nil {
		reasoning = append(reasoning, fmt.Sprintf("anomaly: %s %s severity %.1f (+%.2f)",
			worst.Metric, worst.Kind, anomaly, anomaly*s.weights.Anomaly))
	}

	change := changeComponent(changes)
	if len(changes) > 0 {
		reasoning = append(reasoning, fmt.Sprintf("changes: %d across %d categories (+%.2f)",
			len(changes), len(distinctCategories(changes)), change*s.weights.Change))
	}

	importance := 0.0
	for _, c := range changes {
		if c.Category.Important() {
			importance = 10
			reasoning = append(reasoning, fmt.Sprintf("importance: %s change (+%.2f)", c.Category, importance*s.weights.Importance))
			break
		}
	}

	priority := priorityComponent(changes, cfg.PriorityTypes)
	if priority > 0 {
		reasoning = append(reasoning, fmt.Sprintf("priority types matched (+%.2f)", priority*s.weights.Priority))
	}

	score := anomaly*s.weights.Anomaly + change*s.weights.Change +
		importance*s.weights.Importance + priority*s.weights.Priority
	score = stats.Clamp(score, 0, 10)

	return Result{
		PriorityScore: score,
		Urgency:       domain.UrgencyFor(score),
		Reasoning:     reasoning,
		ShouldNotify:  score/10 >= cfg.AlertThreshold,
	}
}

// changeComponent scores volume and diversity (up to 5) plus the largest
// relative move (up to 5).
func changeComponent(changes []domain.Change) float64 {
	if len(changes) == 0 {
		return 0
	}
	volume := math.Min(5, float64(2*len(changes)+len(distinctCategories(changes))))
	maxPct := 0.0
	for _, c := range changes {
		maxPct = math.Max(maxPct, math.Abs(c.PercentChange))
	}
	return math.Min(10, volume+math.Min(5, maxPct/10))
}

func distinctCategories(changes []domain.Change) map[domain.Category]struct{} {
	out := make(map[domain.Category]struct{})
	for _, c := range changes {
		out[c.Category] = struct{}{}
	}
	return out
}

func priorityComponent(changes []domain.Change, types []string) float64 {
	if len(changes) == 0 || len(types) == 0 {
		return 0
	}
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	matched := 0
	for _, c := range changes {
		for _, key := range []string{string(c.Type), strings.ToLower(c.Subject), string(c.Category)} {
			if _, ok := wanted[key]; ok {
				matched++
				break
			}
		}
	}
	return 10 * float64(matched) / float64(len(changes))
}

// ContentHash identifies an alert by what changed, never by the values, so
// repeats of the same situation collapse.
func ContentHash(changes []domain.Change, findings []domain.AnomalyFinding) string {
	items := make([]string, 0, len(changes)+len(findings))
	for _, c := range changes {
		items = append(items, string(c.Type)+"|"+c.Title)
	}
	for _, f := range findings {
		items = append(items, "finding|"+f.Metric+"|"+string(f.Kind))
	}
	sort.Strings(items)
	sum := sha256.Sum256([]byte(strings.Join(items, "\n")))
	return hex.EncodeToString(sum[:])
}

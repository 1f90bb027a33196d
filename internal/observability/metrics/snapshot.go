package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const decisionsFamily = "haulops_autoreply_decisions_total"

// DecisionCount is one (status, reason) bucket of auto-reply outcomes.
type DecisionCount struct {
	Status string  `json:"status"`
	Reason string  `json:"reason"`
	Count  float64 `json:"count"`
}

// DecisionSnapshot reads the current auto-reply counters from the gatherer,
// sorted by status then reason.
func DecisionSnapshot(g prometheus.Gatherer) ([]DecisionCount, error) {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mfs, err := g.Gather()
	if err != nil {
		return nil, err
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == decisionsFamily {
			family = mf
			break
		}
	}
	if family == nil {
		return nil, nil
	}

	out := make([]DecisionCount, 0, len(family.Metric))
	for _, metric := range family.Metric {
		if metric == nil || metric.Counter == nil {
			continue
		}
		out = append(out, DecisionCount{
			Status: labelValue(metric, "status"),
			Reason: labelValue(metric, "reason"),
			Count:  metric.Counter.GetValue(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status < out[j].Status
		}
		return out[i].Reason < out[j].Reason
	})
	return out, nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

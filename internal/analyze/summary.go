package analyze

import (
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"

	"github.com/derickschaefer/cicqte/internal/model"
)

// ─── Replicate Summary ────────────────────────────────────────────────────────

// SummaryRow describes one (curve, probability) cell across replicates.
// EventTime is -1 for the pooled curve.
type SummaryRow struct {
	EventTime int     `json:"event_time" yaml:"event_time"`
	Prob      float64 `json:"prob" yaml:"prob"`
	N         int     `json:"n" yaml:"n"`
	Mean      float64 `json:"mean" yaml:"mean"`
	Std       float64 `json:"std" yaml:"std"`
	Lo        float64 `json:"lo" yaml:"lo"` // 2.5th percentile
	Hi        float64 `json:"hi" yaml:"hi"` // 97.5th percentile
}

// Summary is a descriptive view of a ResultCollection, one row per curve
// point. Replicates that did not realize an event time simply do not
// contribute to that event time's rows; N records how many did.
type Summary struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	Replicates int          `json:"replicates" yaml:"replicates"`
	EventStudy bool         `json:"event_study" yaml:"event_study"`
	Rows       []SummaryRow `json:"rows" yaml:"rows"`
}

// SummarizeReplicates computes mean, standard deviation and a 95% percentile
// band of every curve point across the replicates of rc.
func SummarizeReplicates(rc *model.ResultCollection) Summary {
	type key struct {
		e int
		i int
	}
	cells := make(map[key][]float64)
	for _, rep := range rc.Replicates {
		for _, q := range rep.QTE {
			e := -1
			if q.EventTime != nil {
				e = *q.EventTime
			}
			for i, v := range q.Effects {
				if math.IsNaN(v) {
					continue
				}
				k := key{e, i}
				cells[k] = append(cells[k], v)
			}
		}
	}

	keys := make([]key, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].e != keys[b].e {
			return keys[a].e < keys[b].e
		}
		return keys[a].i < keys[b].i
	})

	s := Summary{RunID: rc.RunID, Replicates: len(rc.Replicates), EventStudy: rc.EventStudy}
	for _, k := range keys {
		xs := cells[k]
		sample := stats.Sample{Xs: xs}
		sample.Sort()
		row := SummaryRow{
			EventTime: k.e,
			N:         len(xs),
			Mean:      sample.Mean(),
			Lo:        sample.Quantile(0.025),
			Hi:        sample.Quantile(0.975),
		}
		if k.i < len(rc.Probs) {
			row.Prob = rc.Probs[k.i]
		}
		if len(xs) > 1 {
			row.Std = sample.StdDev()
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

// Package gate decides whether reranked context is strong enough to
// synthesize a sourced answer.
package gate

import (
	"fmt"

	"github.com/ppiankov/credence/internal/model"
)

// Decision explains a gate outcome
type Decision struct {
	Confident bool    `json:"confident"`
	Top       float64 `json:"top"`
	MeanTop3  float64 `json:"mean_top3"`
	Reason    string  `json:"reason"`
}

// Gate applies the two-rule confidence check
type Gate struct {
	cfg model.GateConfig
}

// New creates a gate
func New(cfg model.GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// IsConfident reports whether ranked, sorted by descending score, passes
// the gate with the default thresholds
func IsConfident(ranked []model.RankedCandidate) bool {
	return New(model.DefaultConfig().Gate).Evaluate(ranked).Confident
}

// Evaluate is confident when at least MinDocs candidates have a top score
// of TopScore and a top-3 mean of MeanTop3, or when the top score alone
// reaches StrongTop.
func (g *Gate) Evaluate(ranked []model.RankedCandidate) Decision {
	if len(ranked) == 0 {
		return Decision{Reason: "no candidates"}
	}

	d := Decision{Top: ranked[0].Score, MeanTop3: meanTop(ranked, 3)}
	switch {
	case d.Top >= g.cfg.StrongTop:
		d.Confident = true
		d.Reason = fmt.Sprintf("top %.2f >= strong %.2f", d.Top, g.cfg.StrongTop)
	case len(ranked) >= g.cfg.MinDocs && d.Top >= g.cfg.TopScore && d.MeanTop3 >= g.cfg.MeanTop3:
		d.Confident = true
		d.Reason = fmt.Sprintf("top %.2f >= %.2f and mean(top3) %.2f >= %.2f", d.Top, g.cfg.TopScore, d.MeanTop3, g.cfg.MeanTop3)
	default:
		d.Reason = fmt.Sprintf("top %.2f, mean(top3) %.2f over %d candidates", d.Top, d.MeanTop3, len(ranked))
	}
	return d
}

func meanTop(ranked []model.RankedCandidate, n int) float64 {
	n = min(n, len(ranked))
	var sum float64
	for _, c := range ranked[:n] {
		sum += c.Score
	}
	return sum / float64(n)
}

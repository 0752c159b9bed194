package store

import (
	"context"
	"database/sql"
	"math"
)

// Recorder records the progress of one run. It satisfies utitan.Recorder.
type Recorder struct {
	s   *Store
	ctx context.Context
	Run Run
}

// NewRecorder creates a run and returns a recorder for it.
func (s *Store) NewRecorder(ctx context.Context, name string, n, k, layers int) (*Recorder, error) {
	run, err := s.CreateRun(ctx, name, n, k, layers)
	if err != nil {
		return nil, err
	}
	return &Recorder{s: s, ctx: ctx, Run: run}, nil
}

func (r *Recorder) RecordLoss(layer, epoch int, loss, alpha float64) error {
	return r.s.AddLoss(r.ctx, r.Run.ID, Loss{Layer: layer, Epoch: epoch, ISI: loss, Alpha: alpha})
}

func (r *Recorder) RecordEval(perLayer []float64, used int) error {
	_, err := r.s.AddEval(r.ctx, r.Run.ID, perLayer, used)
	return err
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

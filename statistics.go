package utitan

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/chewxy/math32"
	"gorgonia.org/vecf32"

	"github.com/gaspardblaise/Unrolled-TITAN/unrolled"
)

// Statistics tracks training and evaluation progress.
type Statistics struct {
	Trained []int             // layers in the order they were trained
	Losses  map[int][]float32 // mean training ISI per epoch, by layer
	Alphas  map[int][]float32 // mean alpha per epoch, by layer
	Evals   [][]float32       // mean ISI after each layer, per evaluation
	Skipped map[int]int       // samples skipped for numerical reasons, by layer
}

func makeStatistics() Statistics {
	return Statistics{
		Trained: make([]int, 0, 32),
		Losses:  make(map[int][]float32),
		Alphas:  make(map[int][]float32),
		Skipped: make(map[int]int),
	}
}

// update folds the steps of one epoch into per-epoch means. Steps with a NaN
// loss are ignored.
func (s *Statistics) update(layer int, steps []unrolled.StepResult) (loss, alpha float32) {
	if _, ok := s.Losses[layer]; !ok {
		s.Trained = append(s.Trained, layer)
	}
	losses := make([]float32, 0, len(steps))
	alphas := make([]float32, 0, len(steps))
	for _, st := range steps {
		s.Skipped[layer] += st.Skipped
		l := float32(st.Loss)
		if math32.IsNaN(l) || math32.IsInf(l, 0) || st.Used == 0 {
			continue
		}
		losses = append(losses, l)
		alphas = append(alphas, float32(st.MeanAlpha))
	}
	loss, alpha = math32.NaN(), math32.NaN()
	if len(losses) > 0 {
		loss = vecf32.Sum(losses) / float32(len(losses))
		alpha = vecf32.Sum(alphas) / float32(len(alphas))
	}
	s.Losses[layer] = append(s.Losses[layer], loss)
	s.Alphas[layer] = append(s.Alphas[layer], alpha)
	return loss, alpha
}

func (s *Statistics) evaluated(perLayer []float64) {
	e := make([]float32, len(perLayer))
	for i, v := range perLayer {
		e[i] = float32(v)
	}
	s.Evals = append(s.Evals, e)
}

// Best returns the epoch with the lowest training loss of a layer, and that loss.
// Epochs without a usable loss are ignored. It returns -1 if there is none.
func (s *Statistics) Best(layer int) (epoch int, loss float32) {
	epoch, loss = -1, math32.NaN()
	for i, l := range s.Losses[layer] {
		if math32.IsNaN(l) {
			continue
		}
		if epoch < 0 || l < loss {
			epoch, loss = i, l
		}
	}
	return epoch, loss
}

// Dump writes one row per trained layer and epoch, followed by one row per
// evaluation, as CSV.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"kind", "layer", "epoch", "isi", "alpha"}); err != nil {
		return err
	}
	var records [][]string
	for _, layer := range s.Trained {
		for epoch, loss := range s.Losses[layer] {
			records = append(records, []string{
				"train",
				strconv.Itoa(layer),
				strconv.Itoa(epoch),
				strconv.FormatFloat(float64(loss), 'f', 5, 32),
				strconv.FormatFloat(float64(s.Alphas[layer][epoch]), 'g', 5, 32),
			})
		}
	}
	for i, e := range s.Evals {
		for layer, isi := range e {
			records = append(records, []string{
				"eval",
				strconv.Itoa(layer),
				strconv.Itoa(i),
				strconv.FormatFloat(float64(isi), 'f', 5, 32),
				"",
			})
		}
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

package utitan

import (
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"

	"github.com/gaspardblaise/Unrolled-TITAN/unrolled"
)

func TestStatistics(t *testing.T) {
	s := makeStatistics()
	loss, alpha := s.update(1, []unrolled.StepResult{
		{Layer: 1, Loss: 0.2, MeanAlpha: 1, Used: 2},
		{Layer: 1, Loss: 0.4, MeanAlpha: 3, Used: 1, Skipped: 1},
		{Layer: 1, Loss: math.NaN(), Skipped: 2},
	})
	assert.InDelta(t, 0.3, loss, 1e-6)
	assert.InDelta(t, 2, alpha, 1e-6)
	assert.Equal(t, 3, s.Skipped[1])

	s.update(1, []unrolled.StepResult{{Layer: 1, Loss: 0.1, MeanAlpha: 1, Used: 1}})
	loss, _ = s.update(1, nil)
	assert.True(t, math32.IsNaN(loss))

	assert.Equal(t, []int{1}, s.Trained)
	epoch, best := s.Best(1)
	assert.Equal(t, 1, epoch)
	assert.InDelta(t, 0.1, best, 1e-6)

	epoch, _ = s.Best(0)
	assert.Equal(t, -1, epoch)
}

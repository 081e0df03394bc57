package gate

import (
	stderrors "errors"
	"testing"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	th := &models.Thresholds{Accept: 0.75, Escalate: 0.4}

	tests := []struct {
		name  string
		score float64
		want  Decision
	}{
		{"well above accept", 0.95, Accept},
		{"exactly accept is inclusive", 0.75, Accept},
		{"just below accept", 0.7499, Degrade},
		{"exactly escalate is degrade", 0.4, Degrade},
		{"just below escalate", 0.3999, Escalate},
		{"zero", 0, Escalate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.score, th)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_Unconfigured(t *testing.T) {
	tests := []struct {
		name string
		th   *models.Thresholds
	}{
		{"nil thresholds", nil},
		{"inverted thresholds", &models.Thresholds{Accept: 0.3, Escalate: 0.6}},
		{"out of range", &models.Thresholds{Accept: 1.5, Escalate: 0.4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decide(0.9, tt.th)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrUnconfigured))
		})
	}
}

func TestDecide_EqualThresholdsHaveNoDegradeBand(t *testing.T) {
	th := &models.Thresholds{Accept: 0.5, Escalate: 0.5}

	got, err := Decide(0.5, th)
	require.NoError(t, err)
	assert.Equal(t, Accept, got)

	got, err = Decide(0.49, th)
	require.NoError(t, err)
	assert.Equal(t, Escalate, got)
}

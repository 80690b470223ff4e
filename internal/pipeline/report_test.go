package pipeline

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinite(t *testing.T) {
	r := TickReport{Seq: 4, Range: 1.5, TrackingError: math.Inf(1)}
	r.Terms.W[2] = math.NaN()

	_, err := json.Marshal(r)
	require.Error(t, err, "encoding/json rejects non-finite numbers")

	f := r.Finite()
	assert.Equal(t, []string{"tracking_error", "terms.w"}, f.NonFinite)
	assert.Zero(t, f.TrackingError)
	assert.Zero(t, f.Terms.W[2])
	assert.Equal(t, 1.5, f.Range)
	assert.True(t, math.IsInf(r.TrackingError, 1), "original is untouched")

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"non_finite":["tracking_error","terms.w"]`)
}

func TestFinite_CleanReportUnchanged(t *testing.T) {
	r := TickReport{Seq: 1, Range: 2, TrackingError: 1.5}
	assert.Equal(t, r, r.Finite())
}

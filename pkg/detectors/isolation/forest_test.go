package isolation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantTrees  int
		wantSample int
	}{
		{name: "defaults", wantTrees: 100, wantSample: 256},
		{name: "custom trees", opts: []Option{WithTrees(50)}, wantTrees: 50, wantSample: 256},
		{name: "clamped", opts: []Option{WithTrees(0), WithSampleSize(1)}, wantTrees: 1, wantSample: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantTrees, f.nTrees)
			assert.Equal(t, tt.wantSample, f.sampleSize)
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]float64
		wantErr error
	}{
		{name: "empty", rows: nil, wantErr: ErrEmptyData},
		{name: "no features", rows: [][]float64{{}}, wantErr: ErrEmptyData},
		{name: "single row", rows: [][]float64{{1, 2, 3}}},
		{name: "normal data", rows: generateRows(100, 6, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10))
			err := f.Fit(tt.rows)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.trees, 10)
		})
	}
}

func TestScoreBeforeFit(t *testing.T) {
	_, err := New().Score(generateRows(3, 2, 1))
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestFitScoreIsolatesOutlier(t *testing.T) {
	rows := generateRows(60, 6, 3)
	rows = append(rows, []float64{40, 40, 40, 40, 40, 40})

	scores, err := New(WithTrees(50), WithSeed(3)).FitScore(rows)
	require.NoError(t, err)
	require.Len(t, scores, len(rows))

	outlier := scores[len(scores)-1]
	for _, s := range scores[:len(scores)-1] {
		assert.Less(t, s, outlier)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestSeededFitIsDeterministic(t *testing.T) {
	rows := generateRows(80, 4, 9)
	a, err := New(WithTrees(20), WithSeed(11)).FitScore(rows)
	require.NoError(t, err)
	b, err := New(WithTrees(20), WithSeed(11)).FitScore(rows)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func BenchmarkFitScore(b *testing.B) {
	rows := generateRows(2000, 6, 1)
	f := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.FitScore(rows)
	}
}

func generateRows(n, features int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, features)
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
		}
	}
	return rows
}

package features

import "FlowSentry/internal/model"

// Align reorders a feature row to the expected column list. Columns the row
// does not carry are zero-filled and extra row columns are dropped.
func Align(v model.FeatureVector, expected []string) []float64 {
	out := make([]float64, len(expected))
	for i, col := range expected {
		out[i] = v.GetOr(col, 0)
	}
	return out
}

// AlignMatrix applies Align to every row of m. A nil expected list keeps the
// assembled columns as they are.
func AlignMatrix(m *model.FeatureMatrix, expected []string) ([]string, [][]float64) {
	if expected == nil {
		return m.Schema.Columns(), m.Rows
	}
	positions := make([]int, len(expected))
	for i, col := range expected {
		if j, ok := m.Schema.Index(col); ok {
			positions[i] = j
		} else {
			positions[i] = -1
		}
	}
	rows := make([][]float64, m.Len())
	for r, src := range m.Rows {
		row := make([]float64, len(expected))
		for i, j := range positions {
			if j >= 0 {
				row[i] = src[j]
			}
		}
		rows[r] = row
	}
	return expected, rows
}

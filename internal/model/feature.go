package model

// Windowed feature column names produced by the host window tracker.
const (
	FeatUniqueDstPorts     = "unique_dst_ports_window"
	FeatConnectionsSameDst = "connections_same_dst_window"
	FeatOutboundBytes      = "outbound_bytes_window"
	FeatInboundBytes       = "inbound_bytes_window"
	FeatBeaconCV           = "beacon_cv_window"
	FeatRecentConnCount    = "recent_conn_count"
)

// WindowColumns lists the windowed features in assembly order.
var WindowColumns = []string{
	FeatUniqueDstPorts,
	FeatConnectionsSameDst,
	FeatOutboundBytes,
	FeatInboundBytes,
	FeatBeaconCV,
	FeatRecentConnCount,
}

// Schema is an ordered list of feature columns with a name index.
// A Schema is immutable once built and may be shared between vectors.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema builds a schema over the given column order. Duplicate names keep their first position.
func NewSchema(columns []string) *Schema {
	s := &Schema{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	copy(s.columns, columns)
	for i, c := range columns {
		if _, ok := s.index[c]; !ok {
			s.index[c] = i
		}
	}
	return s
}

// Columns returns the ordered column names.
func (s *Schema) Columns() []string {
	return s.columns
}

// Index returns the position of a column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.columns)
}

// FeatureVector is the feature row for one flow, keyed by row id.
type FeatureVector struct {
	RowID  int64
	Schema *Schema
	Values []float64
}

// Get returns the named feature value.
func (v FeatureVector) Get(name string) (float64, bool) {
	if v.Schema == nil {
		return 0, false
	}
	i, ok := v.Schema.Index(name)
	if !ok || i >= len(v.Values) {
		return 0, false
	}
	return v.Values[i], true
}

// GetOr returns the named feature value or def when the column is absent.
func (v FeatureVector) GetOr(name string, def float64) float64 {
	if val, ok := v.Get(name); ok {
		return val
	}
	return def
}

// FeatureMatrix holds the feature rows of a batch in input order.
type FeatureMatrix struct {
	Schema *Schema
	RowIDs []int64
	Rows   [][]float64
}

// Len returns the number of rows.
func (m *FeatureMatrix) Len() int {
	return len(m.Rows)
}

// Row returns the i-th row as a FeatureVector sharing the matrix schema.
func (m *FeatureMatrix) Row(i int) FeatureVector {
	return FeatureVector{RowID: m.RowIDs[i], Schema: m.Schema, Values: m.Rows[i]}
}

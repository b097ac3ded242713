package flowcsv

import (
	"sort"
	"time"

	"FlowSentry/internal/model"
)

// fillTimestamps forward fills and then back fills records whose ts was not
// valid. When no ts is valid the whole set gets a one-second sequence from
// SyntheticEpoch.
func fillTimestamps(records []model.FlowRecord, valid []bool) {
	first := -1
	for i, ok := range valid {
		if ok {
			first = i
			break
		}
	}
	if first < 0 {
		for i := range records {
			records[i].Ts = SyntheticEpoch.Add(time.Duration(i) * time.Second)
		}
		return
	}
	for i := 0; i < first; i++ {
		records[i].Ts = records[first].Ts
	}
	last := records[first].Ts
	for i := first + 1; i < len(records); i++ {
		if valid[i] {
			last = records[i].Ts
		} else {
			records[i].Ts = last
		}
	}
}

// Normalize completes a decoded record set in place: zero timestamps are
// filled as in a CSV load, row ids are reassigned 1..n in input order when any
// is missing, and records are stably sorted by ts.
func Normalize(records []model.FlowRecord) {
	valid := make([]bool, len(records))
	anyZero := false
	for i := range records {
		valid[i] = !records[i].Ts.IsZero()
		anyZero = anyZero || !valid[i]
	}
	if anyZero {
		fillTimestamps(records, valid)
	}

	for i := range records {
		if records[i].RowID <= 0 {
			for j := range records {
				records[j].RowID = int64(j + 1)
			}
			break
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Ts.Before(records[j].Ts)
	})
}

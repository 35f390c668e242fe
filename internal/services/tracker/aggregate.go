package tracker

import (
	"sort"
	"strconv"
	"strings"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/shared"
)

// ParseSize parses the decimal size of a declared series. An empty size is 0.
func ParseSize(record models.SeriesRecord) (int64, error) {
	value := strings.TrimSpace(record.Size)
	if value == "" {
		return 0, nil
	}
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil || size < 0 {
		return 0, &shared.MalformedSizeError{SeriesInstanceUID: record.SeriesInstanceUID, Value: record.Size, Err: err}
	}
	return size, nil
}

// AggregateByPatient groups declared series by (collection, patient). A series
// declared twice for the same patient is counted once. Sizes are validated
// before anything is grouped, so a malformed size yields no aggregate at all.
// The result is sorted by collection, then patient ID.
func AggregateByPatient(records []models.SeriesRecord) ([]PatientAggregate, error) {
	sizes := make([]int64, len(records))
	for i, r := range records {
		size, err := ParseSize(r)
		if err != nil {
			return nil, err
		}
		sizes[i] = size
	}

	index := make(map[models.PatientKey]int)
	seen := make(map[models.PatientKey]map[string]struct{})
	var aggregates []PatientAggregate

	for i, r := range records {
		key := r.Key()
		pos, ok := index[key]
		if !ok {
			pos = len(aggregates)
			index[key] = pos
			seen[key] = make(map[string]struct{})
			aggregates = append(aggregates, PatientAggregate{
				Collection:         r.Collection,
				PatientID:          r.PatientID,
				SeriesInstanceUIDs: []string{},
			})
		}

		agg := &aggregates[pos]
		if agg.OrthancID == "" {
			agg.OrthancID = r.OrthancID
		}
		if _, dup := seen[key][r.SeriesInstanceUID]; dup {
			continue
		}
		seen[key][r.SeriesInstanceUID] = struct{}{}

		agg.SeriesInstanceUIDs = append(agg.SeriesInstanceUIDs, r.SeriesInstanceUID)
		agg.InstancesCount += r.InstancesCount
		agg.Size += sizes[i]
	}

	sort.SliceStable(aggregates, func(i, j int) bool {
		return aggregates[i].Key().Less(aggregates[j].Key())
	})
	return aggregates, nil
}

// carryCompleted copies the previous recount onto freshly built aggregates so a
// row whose recount fails keeps showing its last known value.
func carryCompleted(fresh, previous []PatientAggregate) {
	prev := make(map[models.PatientKey]PatientAggregate, len(previous))
	for _, p := range previous {
		prev[p.Key()] = p
	}
	for i := range fresh {
		if p, ok := prev[fresh[i].Key()]; ok {
			fresh[i].CompletedSeries = min(p.CompletedSeries, len(fresh[i].SeriesInstanceUIDs))
			fresh[i].RefreshedAt = p.RefreshedAt
		}
	}
}

// Package selection tracks which series of the active patient the user selected.
package selection

import (
	"sync"

	"tciasync-desktop/internal/models"
)

// Tree holds the series of the active patient grouped by study, and the set of
// selected series. A series absent from the set is not selected. Only loaded
// series can be selected.
type Tree struct {
	mu       sync.RWMutex
	context  models.PatientKey
	studies  []string                   // study order as first seen
	series   map[string][]models.Series // study UID -> series in server order
	loaded   map[string]struct{}
	selected map[string]struct{}
}

func NewTree() *Tree {
	return &Tree{
		series:   make(map[string][]models.Series),
		loaded:   make(map[string]struct{}),
		selected: make(map[string]struct{}),
	}
}

// Reset switches to another patient, dropping loaded series and the selection
func (t *Tree) Reset(key models.PatientKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.context = key
	t.studies = nil
	t.series = make(map[string][]models.Series)
	t.loaded = make(map[string]struct{})
	t.selected = make(map[string]struct{})
}

// LoadSeries replaces the loaded series, grouping them by study. Selections of
// series that are no longer loaded are dropped.
func (t *Tree) LoadSeries(series []models.Series) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.studies = nil
	t.series = make(map[string][]models.Series)
	for _, s := range series {
		if _, ok := t.series[s.StudyInstanceUID]; !ok {
			t.studies = append(t.studies, s.StudyInstanceUID)
		}
		t.series[s.StudyInstanceUID] = append(t.series[s.StudyInstanceUID], s)
	}

	t.loaded = make(map[string]struct{}, len(series))
	for _, s := range series {
		t.loaded[s.SeriesInstanceUID] = struct{}{}
	}
	for uid := range t.selected {
		if _, ok := t.loaded[uid]; !ok {
			delete(t.selected, uid)
		}
	}
}

// Context returns the patient whose series are loaded
func (t *Tree) Context() models.PatientKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.context
}

// SetSeries flags one series. Series that are not loaded are ignored.
func (t *Tree) SetSeries(seriesInstanceUID string, selected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(seriesInstanceUID, selected)
}

// SetAllInStudy flags every loaded series of a study. Unknown studies are ignored.
func (t *Tree) SetAllInStudy(studyInstanceUID string, selected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.series[studyInstanceUID] {
		t.setLocked(s.SeriesInstanceUID, selected)
	}
}

func (t *Tree) setLocked(uid string, selected bool) {
	if _, ok := t.loaded[uid]; !ok {
		return
	}
	if selected {
		t.selected[uid] = struct{}{}
	} else {
		delete(t.selected, uid)
	}
}

func (t *Tree) IsSelected(seriesInstanceUID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.selected[seriesInstanceUID]
	return ok
}

// CountSelectedInStudy returns 0 for a study without loaded series
func (t *Tree) CountSelectedInStudy(studyInstanceUID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, s := range t.series[studyInstanceUID] {
		if _, ok := t.selected[s.SeriesInstanceUID]; ok {
			count++
		}
	}
	return count
}

func (t *Tree) TotalSelected() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.selected)
}

// Series returns the loaded series of a study
func (t *Tree) Series(studyInstanceUID string) []models.Series {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Series, len(t.series[studyInstanceUID]))
	copy(out, t.series[studyInstanceUID])
	return out
}

// SelectedSeries returns the selected series, by study then server order
func (t *Tree) SelectedSeries() []models.Series {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []models.Series
	for _, study := range t.studies {
		for _, s := range t.series[study] {
			if _, ok := t.selected[s.SeriesInstanceUID]; ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Snapshot is the selection state published to the frontend
type Snapshot struct {
	Context       models.PatientKey `json:"context"`
	Selected      []string          `json:"selected"`
	PerStudy      map[string]int    `json:"perStudy"`
	TotalSelected int               `json:"totalSelected"`
}

func (t *Tree) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Context:       t.context,
		Selected:      make([]string, 0, len(t.selected)),
		PerStudy:      make(map[string]int, len(t.studies)),
		TotalSelected: len(t.selected),
	}
	for _, study := range t.studies {
		count := 0
		for _, s := range t.series[study] {
			if _, ok := t.selected[s.SeriesInstanceUID]; ok {
				snap.Selected = append(snap.Selected, s.SeriesInstanceUID)
				count++
			}
		}
		snap.PerStudy[study] = count
	}
	return snap
}

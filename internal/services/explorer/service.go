// Package explorer keeps the navigation state of the catalog browser: the active
// collection and patient, their studies, and which studies are expanded.
package explorer

import (
	"context"
	"fmt"
	"sync"

	"tciasync-desktop/internal/events"
	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/services/selection"
	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
)

// Service is the explorer store. Every navigation bumps an epoch and cancels
// the previous navigation; answers that belong to an older epoch are dropped
// and reported as shared.ErrSuperseded.
type Service struct {
	source    Source
	selection *selection.Tree
	emitter   events.Emitter
	logger    *log.Logger

	mu               sync.RWMutex
	epoch            uint64
	cancel           context.CancelFunc
	filter           string
	activeCollection string
	activePatientID  string
	patients         []models.Patient
	studies          []models.Study
	openedStudies    map[string]bool
}

func NewService(source Source, tree *selection.Tree, emitter events.Emitter, logger *log.Logger) *Service {
	if emitter == nil {
		emitter = events.Discard
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Service{
		source:        source,
		selection:     tree,
		emitter:       emitter,
		logger:        logger.With("component", "explorer"),
		openedStudies: make(map[string]bool),
	}
}

// beginNavigation supersedes any in-flight navigation
func (s *Service) beginNavigation(ctx context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.epoch++
	navCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return navCtx, s.epoch
}

// fetchError turns a failed fetch into ErrSuperseded when the navigation was replaced
func (s *Service) fetchError(epoch uint64, what string, err error) error {
	s.mu.RLock()
	current := epoch == s.epoch
	s.mu.RUnlock()

	if !current {
		return shared.ErrSuperseded
	}
	s.logger.Error("Catalog query failed", "query", what, "error", err)
	return fmt.Errorf("failed to load %s: %w", what, err)
}

// OpenCollection lists the patients of a collection and makes it active
func (s *Service) OpenCollection(ctx context.Context, collection string) error {
	navCtx, epoch := s.beginNavigation(ctx)

	patients, err := s.source.GetPatient(navCtx, collection)
	if err != nil {
		return s.fetchError(epoch, "patients", err)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return shared.ErrSuperseded
	}
	s.activeCollection = collection
	s.activePatientID = ""
	s.patients = patients
	s.studies = nil
	s.openedStudies = make(map[string]bool)
	s.filter = ""
	s.selection.Reset(models.PatientKey{Collection: collection})
	s.mu.Unlock()

	s.logger.Debug("Opened collection", "collection", collection, "patients", len(patients))
	s.publish()
	return nil
}

// CloseCollection returns to the collection list
func (s *Service) CloseCollection() {
	s.beginNavigation(context.Background())

	s.mu.Lock()
	s.activeCollection = ""
	s.activePatientID = ""
	s.patients = nil
	s.studies = nil
	s.openedStudies = make(map[string]bool)
	s.filter = ""
	s.selection.Reset(models.PatientKey{})
	s.mu.Unlock()

	s.publish()
}

// OpenPatient loads the studies, then the series, of a patient of the active collection
func (s *Service) OpenPatient(ctx context.Context, patientID string) error {
	s.mu.RLock()
	collection := s.activeCollection
	s.mu.RUnlock()
	if collection == "" {
		return shared.ErrNoActiveCollection
	}

	navCtx, epoch := s.beginNavigation(ctx)
	key := models.PatientKey{Collection: collection, PatientID: patientID}

	studies, err := s.source.GetPatientStudy(navCtx, collection, patientID)
	if err != nil {
		return s.fetchError(epoch, "studies", err)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return shared.ErrSuperseded
	}
	s.activePatientID = patientID
	s.studies = studies
	s.openedStudies = make(map[string]bool)
	s.filter = ""
	s.selection.Reset(key)
	s.mu.Unlock()

	s.publish()

	series, err := s.source.GetSeries(navCtx, collection, patientID)
	if err != nil {
		return s.fetchError(epoch, "series", err)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return shared.ErrSuperseded
	}
	s.selection.LoadSeries(series)
	s.mu.Unlock()

	s.logger.Debug("Opened patient", "patient", key, "studies", len(studies), "series", len(series))
	s.publish()
	return nil
}

// ClosePatient returns to the patient list of the active collection
func (s *Service) ClosePatient() {
	s.beginNavigation(context.Background())

	s.mu.Lock()
	collection := s.activeCollection
	s.activePatientID = ""
	s.studies = nil
	s.openedStudies = make(map[string]bool)
	s.filter = ""
	s.selection.Reset(models.PatientKey{Collection: collection})
	s.mu.Unlock()

	s.publish()
}

func (s *Service) OpenStudy(studyInstanceUID string) {
	s.setStudyOpen(studyInstanceUID, true)
}

func (s *Service) CloseStudy(studyInstanceUID string) {
	s.setStudyOpen(studyInstanceUID, false)
}

func (s *Service) setStudyOpen(studyInstanceUID string, open bool) {
	s.mu.Lock()
	if open {
		s.openedStudies[studyInstanceUID] = true
	} else {
		delete(s.openedStudies, studyInstanceUID)
	}
	s.mu.Unlock()
	s.publish()
}

// SetFilter sets the glob filter applied to the patient list
func (s *Service) SetFilter(pattern string) {
	s.mu.Lock()
	s.filter = pattern
	s.mu.Unlock()
	s.publish()
}

// ActivePatient returns the patient whose series are loaded, if any
func (s *Service) ActivePatient() (models.PatientKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activePatientID == "" {
		return models.PatientKey{}, false
	}
	return models.PatientKey{Collection: s.activeCollection, PatientID: s.activePatientID}, true
}

// Snapshot returns the current view, with the filter applied to patients
func (s *Service) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := shared.GlobMatcher(s.filter)
	state := State{
		Filter:           s.filter,
		ActiveCollection: s.activeCollection,
		ActivePatientID:  s.activePatientID,
		Patients:         make([]models.Patient, 0, len(s.patients)),
		Studies:          make([]StudyView, 0, len(s.studies)),
		Selection:        s.selection.Snapshot(),
	}
	for _, p := range s.patients {
		if match(p.PatientID) {
			state.Patients = append(state.Patients, p)
		}
	}
	for _, st := range s.studies {
		state.Studies = append(state.Studies, StudyView{
			Study:         st,
			Open:          s.openedStudies[st.StudyInstanceUID],
			Series:        s.selection.Series(st.StudyInstanceUID),
			SelectedCount: s.selection.CountSelectedInStudy(st.StudyInstanceUID),
		})
	}
	return state
}

func (s *Service) publish() {
	s.emitter.Emit(events.ExplorerChanged, s.Snapshot())
}

package tracker

import (
	"context"
	"fmt"
	"time"

	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Reconciler recounts how many declared series of each patient are present in
// the archive. Each distinct patient ID is queried once; queries run
// concurrently up to a limit and a failing query only affects its own rows.
type Reconciler struct {
	archive     ArchiveSource
	concurrency int
	logger      *log.Logger
	now         func() time.Time
}

func NewReconciler(archive ArchiveSource, concurrency int, logger *log.Logger) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Reconciler{
		archive:     archive,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Reconcile returns a copy of aggregates with CompletedSeries recomputed. onRow,
// if set, is called once per row as soon as its recount (or failure) is known;
// it may be called from several goroutines.
func (r *Reconciler) Reconcile(ctx context.Context, aggregates []PatientAggregate, onRow func(PatientAggregate)) []PatientAggregate {
	out := make([]PatientAggregate, len(aggregates))
	copy(out, aggregates)

	rowsByPatient := make(map[string][]int)
	var order []string
	for i, agg := range out {
		if _, ok := rowsByPatient[agg.PatientID]; !ok {
			order = append(order, agg.PatientID)
		}
		rowsByPatient[agg.PatientID] = append(rowsByPatient[agg.PatientID], i)
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for _, patientID := range order {
		rows := rowsByPatient[patientID]
		g.Go(func() error {
			r.recountPatient(ctx, patientID, rows, out, onRow)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// recountPatient writes only the rows it owns, so concurrent calls never overlap.
func (r *Reconciler) recountPatient(ctx context.Context, patientID string, rows []int, out []PatientAggregate, onRow func(PatientAggregate)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Recount panicked", "patient", patientID, "panic", rec)
			for _, i := range rows {
				out[i].Error = fmt.Sprintf("recount failed: %v", rec)
				if onRow != nil {
					onRow(out[i])
				}
			}
		}
	}()

	series, err := r.archive.FindSeriesByPatientID(ctx, patientID)
	if err != nil {
		r.logger.Warn("Recount failed, keeping previous counts", "patient", patientID, "error", err)
		for _, i := range rows {
			out[i].Error = err.Error()
			if onRow != nil {
				onRow(out[i])
			}
		}
		return
	}

	present := make(map[string]struct{}, len(series))
	for _, s := range series {
		if uid := s.SeriesInstanceUID(); uid != "" {
			present[uid] = struct{}{}
		}
	}

	refreshed := r.now()
	for _, i := range rows {
		count := 0
		for _, uid := range out[i].SeriesInstanceUIDs {
			if _, ok := present[uid]; ok {
				count++
			}
		}
		out[i].CompletedSeries = count
		out[i].Error = ""
		out[i].RefreshedAt = &refreshed
		if onRow != nil {
			onRow(out[i])
		}
	}
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stwalsh4118/featuresync/internal/featureservice"
	"github.com/stwalsh4118/featuresync/internal/geometry"
	"github.com/stwalsh4118/featuresync/internal/logger"
	"github.com/stwalsh4118/featuresync/internal/metrics"
	"github.com/stwalsh4118/featuresync/internal/models"
	"github.com/stwalsh4118/featuresync/internal/sink"
	"github.com/stwalsh4118/featuresync/internal/watermark"
)

// Mode selects whether a load honors the stored watermark.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFull:
		return ModeFull, nil
	case ModeIncremental:
		return ModeIncremental, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Format names the shape of a load result.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// Outcome summarizes how a load ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomePartial         Outcome = "partial"
	OutcomeNoFeatures      Outcome = "no_features"
	OutcomeCountFailed     Outcome = "count_failed"
	OutcomeWatermarkFailed Outcome = "watermark_failed"
)

// Failed reports whether the outcome should be surfaced as a failure.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeCompleted, OutcomeNoFeatures:
		return false
	default:
		return true
	}
}

// Service-level errors
var (
	ErrLoadInProgress = errors.New("a load is already running")
	ErrInvalidMode    = errors.New("invalid load mode")
	ErrWatermark      = errors.New("watermark store failure")
)

// FeatureSource is the remote layer a load reads from.
type FeatureSource interface {
	CountFeatures(ctx context.Context, q featureservice.Query) (int, error)
	FetchFeatures(ctx context.Context, q featureservice.Query, total int) (*featureservice.FetchResult, error)
}

// SinkResult records one sink write of a run.
type SinkResult struct {
	Sink       string `json:"sink"`
	Rows       int    `json:"rows"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Report describes one load run.
type Report struct {
	RunID             string               `json:"run_id"`
	Mode              Mode                 `json:"mode"`
	Format            Format               `json:"format"`
	Outcome           Outcome              `json:"outcome"`
	Where             string               `json:"where"`
	Total             int                  `json:"total"`
	Fetched           int                  `json:"fetched"`
	Requests          int                  `json:"requests"`
	Rows              int                  `json:"rows"`
	Dropped           geometry.DropSummary `json:"dropped"`
	PreviousWatermark *int64               `json:"previous_watermark,omitempty"`
	NewWatermark      *int64               `json:"new_watermark,omitempty"`
	Errors            []string             `json:"errors,omitempty"`
	Sinks             []SinkResult         `json:"sinks,omitempty"`
	StartedAt         time.Time            `json:"started_at"`
	FinishedAt        time.Time            `json:"finished_at"`
	DurationMS        int64                `json:"duration_ms"`
}

// Failed reports whether the load or any sink write failed.
func (r *Report) Failed() bool {
	if r.Outcome.Failed() {
		return true
	}
	for _, s := range r.Sinks {
		if s.Error != "" {
			return true
		}
	}
	return false
}

func (r *Report) addError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// LoadService defines the load flows.
type LoadService interface {
	// FullLoadAsJSON fetches every feature matching the base filter and
	// returns the raw feature array pretty-printed. Returns nil data when
	// there is nothing to fetch.
	FullLoadAsJSON(ctx context.Context) ([]byte, *Report, error)

	// FullLoadAsTable fetches every feature matching the base filter and
	// materializes it. Returns a nil table when there is nothing to fetch.
	FullLoadAsTable(ctx context.Context) (*models.Table, *Report, error)

	// IncrementalLoadAsJSON fetches features beyond the stored watermark.
	IncrementalLoadAsJSON(ctx context.Context) ([]byte, *Report, error)

	// IncrementalLoadAsTable fetches features beyond the stored watermark
	// and materializes them.
	IncrementalLoadAsTable(ctx context.Context) (*models.Table, *Report, error)

	// Run performs a table load and writes the result to every sink. A
	// failing sink is logged and recorded but does not stop the others.
	Run(ctx context.Context, mode Mode, sinks []sink.Writer) (*Report, error)

	// Watermark returns the stored watermark, nil when none exists.
	Watermark(ctx context.Context) (*watermark.Watermark, error)

	// SetWatermark stores id unconditionally.
	SetWatermark(ctx context.Context, id int64) error
}

// Options configures a LoadService.
type Options struct {
	Source FeatureSource
	Store  watermark.Store
	// Query is the base filter; incremental loads narrow its Where.
	Query featureservice.Query
	// FullLoadRespectsWatermark applies the watermark filter to full loads too.
	FullLoadRespectsWatermark bool
	Logger                    *logger.Logger
	Metrics                   *metrics.Metrics
}

// loadService is the concrete implementation of LoadService.
type loadService struct {
	source            FeatureSource
	store             watermark.Store
	query             featureservice.Query
	fullRespectsWater bool
	log               *logger.Logger
	metrics           *metrics.Metrics
	now               func() time.Time

	// mu serializes loads; a second caller gets ErrLoadInProgress.
	mu sync.Mutex
}

// NewLoadService creates a new instance of LoadService.
func NewLoadService(opts Options) LoadService {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &loadService{
		source:            opts.Source,
		store:             opts.Store,
		query:             opts.Query,
		fullRespectsWater: opts.FullLoadRespectsWatermark,
		log:               log,
		metrics:           opts.Metrics,
		now:               time.Now,
	}
}

// IncrementalWhere narrows base to identifiers above wm.
func IncrementalWhere(base, field string, wm int64) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "1=1" {
		return fmt.Sprintf("%s > %d", field, wm)
	}
	return fmt.Sprintf("(%s) AND %s > %d", base, field, wm)
}

func (s *loadService) FullLoadAsJSON(ctx context.Context) ([]byte, *Report, error) {
	return s.lockedJSON(ctx, ModeFull)
}

func (s *loadService) FullLoadAsTable(ctx context.Context) (*models.Table, *Report, error) {
	return s.lockedTable(ctx, ModeFull)
}

func (s *loadService) IncrementalLoadAsJSON(ctx context.Context) ([]byte, *Report, error) {
	return s.lockedJSON(ctx, ModeIncremental)
}

func (s *loadService) IncrementalLoadAsTable(ctx context.Context) (*models.Table, *Report, error) {
	return s.lockedTable(ctx, ModeIncremental)
}

func (s *loadService) lockedJSON(ctx context.Context, mode Mode) ([]byte, *Report, error) {
	if !s.mu.TryLock() {
		return nil, nil, ErrLoadInProgress
	}
	defer s.mu.Unlock()

	report := s.newReport(mode, FormatJSON)
	defer s.finish(report)

	log := s.log.WithRunID(report.RunID)
	features, err := s.collect(ctx, log, report)
	if features == nil {
		return nil, report, err
	}

	data, merr := json.MarshalIndent(features, "", "    ")
	if merr != nil {
		merr = fmt.Errorf("failed to encode features: %w", merr)
		log.Error("Error serializing features", merr, nil)
		report.addError(merr)
		return nil, report, errors.Join(err, merr)
	}
	return data, report, err
}

func (s *loadService) lockedTable(ctx context.Context, mode Mode) (*models.Table, *Report, error) {
	if !s.mu.TryLock() {
		return nil, nil, ErrLoadInProgress
	}
	defer s.mu.Unlock()

	report := s.newReport(mode, FormatTable)
	defer s.finish(report)

	table, err := s.loadTable(ctx, s.log.WithRunID(report.RunID), report)
	return table, report, err
}

func (s *loadService) Run(ctx context.Context, mode Mode, sinks []sink.Writer) (*Report, error) {
	if mode != ModeFull && mode != ModeIncremental {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if !s.mu.TryLock() {
		return nil, ErrLoadInProgress
	}
	defer s.mu.Unlock()

	report := s.newReport(mode, FormatTable)
	defer s.finish(report)

	log := s.log.WithRunID(report.RunID)
	table, err := s.loadTable(ctx, log, report)
	if table == nil {
		return report, err
	}

	errs := []error{err}
	for _, w := range sinks {
		started := s.now()
		werr := w.Write(ctx, table)

		result := SinkResult{
			Sink:       w.Name(),
			Rows:       table.Len(),
			DurationMS: s.now().Sub(started).Milliseconds(),
		}
		if werr != nil {
			result.Rows = 0
			result.Error = werr.Error()
			errs = append(errs, fmt.Errorf("sink %s: %w", w.Name(), werr))
			s.metrics.ObserveSinkWrite(sinkKind(w.Name()), metrics.StatusError)
			log.Error("Error saving data", werr, map[string]interface{}{
				"sink": w.Name(),
			})
		} else {
			s.metrics.ObserveSinkWrite(sinkKind(w.Name()), metrics.StatusOK)
			log.Info("Data saved", map[string]interface{}{
				"sink": w.Name(),
				"rows": table.Len(),
			})
		}
		report.Sinks = append(report.Sinks, result)
	}

	return report, errors.Join(errs...)
}

func (s *loadService) Watermark(ctx context.Context) (*watermark.Watermark, error) {
	wm, err := s.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWatermark, err)
	}
	return wm, nil
}

func (s *loadService) SetWatermark(ctx context.Context, id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: watermark must not be negative, got %d", ErrWatermark, id)
	}
	if !s.mu.TryLock() {
		return ErrLoadInProgress
	}
	defer s.mu.Unlock()

	if err := s.store.Write(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrWatermark, err)
	}
	s.metrics.SetWatermark(id)
	s.log.Info("Watermark set manually", map[string]interface{}{
		"id": id,
	})
	return nil
}

// loadTable runs collect and materializes the features.
func (s *loadService) loadTable(ctx context.Context, log *logger.Logger, report *Report) (*models.Table, error) {
	features, err := s.collect(ctx, log, report)
	if features == nil {
		return nil, err
	}

	table, dropped := geometry.Materialize(features, log, s.metrics)
	report.Rows = table.Len()
	report.Dropped = dropped
	return table, err
}

// collect runs the shared part of every flow: watermark filter, count,
// fetch and watermark update. It returns nil features when nothing was
// received. A non-nil error may accompany a partial feature set.
func (s *loadService) collect(ctx context.Context, log *logger.Logger, report *Report) ([]models.Feature, error) {
	q := s.query

	var previous *int64
	if report.Mode == ModeIncremental || s.fullRespectsWater {
		wm, err := s.store.Read(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrWatermark, err)
			log.Error("Error reading watermark", err, nil)
			report.Outcome = OutcomeWatermarkFailed
			report.addError(err)
			return nil, err
		}
		if wm != nil {
			previous = &wm.ID
			q.Where = IncrementalWhere(q.Where, q.IncrementalField, wm.ID)
			log.Info("Starting incremental load from watermark", map[string]interface{}{
				"watermark": wm.ID,
				"mode":      report.Mode,
			})
		} else if report.Mode == ModeIncremental {
			log.Info("No watermark recorded, loading every feature", nil)
		}
	}
	report.PreviousWatermark = previous
	report.Where = q.Where

	total, err := s.source.CountFeatures(ctx, q)
	if err != nil {
		if !errors.Is(err, featureservice.ErrCountFailed) {
			err = fmt.Errorf("%w: %w", featureservice.ErrCountFailed, err)
		}
		log.Error("Error counting features", err, map[string]interface{}{
			"where": q.Where,
		})
		report.Outcome = OutcomeCountFailed
		report.addError(err)
		return nil, err
	}
	report.Total = total

	if total == 0 {
		log.Warn("No new features to fetch", map[string]interface{}{
			"where": q.Where,
		})
		report.Outcome = OutcomeNoFeatures
		return nil, nil
	}

	result, fetchErr := s.source.FetchFeatures(ctx, q, total)
	if result == nil {
		result = &featureservice.FetchResult{}
	}
	report.Fetched = len(result.Features)
	report.Requests = result.Requests

	var errs []error
	if fetchErr != nil {
		report.addError(fetchErr)
		errs = append(errs, fetchErr)
	}

	if result.LastID != nil {
		if err := s.advance(ctx, log, report, previous, *result.LastID); err != nil {
			report.addError(err)
			errs = append(errs, err)
		}
	}

	switch {
	case report.Outcome == OutcomeWatermarkFailed:
	case fetchErr != nil:
		report.Outcome = OutcomePartial
	case len(result.Features) == 0:
		report.Outcome = OutcomeNoFeatures
	default:
		report.Outcome = OutcomeCompleted
	}

	if len(result.Features) == 0 {
		log.Warn("No features fetched", map[string]interface{}{
			"where":    q.Where,
			"requests": result.Requests,
		})
		return nil, errors.Join(errs...)
	}
	return result.Features, errors.Join(errs...)
}

// advance persists lastID. Incremental loads never move the watermark
// backwards; full loads record whatever they observed.
func (s *loadService) advance(ctx context.Context, log *logger.Logger, report *Report, previous *int64, lastID int64) error {
	if report.Mode == ModeIncremental && previous != nil && lastID <= *previous {
		log.Warn("Observed identifier does not advance the watermark, keeping it", map[string]interface{}{
			"watermark": *previous,
			"observed":  lastID,
		})
		return nil
	}

	log.Info("Updating watermark", map[string]interface{}{
		"id": lastID,
	})
	if err := s.store.Write(ctx, lastID); err != nil {
		err = fmt.Errorf("%w: %w", ErrWatermark, err)
		log.Error("Error persisting watermark", err, map[string]interface{}{
			"id": lastID,
		})
		report.Outcome = OutcomeWatermarkFailed
		return err
	}

	report.NewWatermark = &lastID
	s.metrics.SetWatermark(lastID)
	return nil
}

func (s *loadService) newReport(mode Mode, format Format) *Report {
	return &Report{
		RunID:     uuid.New().String(),
		Mode:      mode,
		Format:    format,
		StartedAt: s.now().UTC(),
	}
}

func (s *loadService) finish(report *Report) {
	report.FinishedAt = s.now().UTC()
	report.DurationMS = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	s.metrics.ObserveLoad(string(report.Mode), string(report.Outcome))

	s.log.WithRunID(report.RunID).Info("Load finished", map[string]interface{}{
		"mode":     report.Mode,
		"outcome":  report.Outcome,
		"total":    report.Total,
		"fetched":  report.Fetched,
		"rows":     report.Rows,
		"requests": report.Requests,
	})
}

// sinkKind strips the target from a writer name for metrics labels.
func sinkKind(name string) string {
	kind, _, _ := strings.Cut(name, ":")
	return kind
}

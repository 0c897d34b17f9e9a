// Package ingest runs the imaging and patient ingestion flows end to end:
// extract or fetch, write the artifact, then hand it to the configured sinks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/theranostics/internal/fhirclient"
	"github.com/ehr/theranostics/internal/imaging"
	"github.com/ehr/theranostics/internal/patient"
	"github.com/ehr/theranostics/internal/platform/blobstore"
	"github.com/ehr/theranostics/internal/platform/events"
	"github.com/ehr/theranostics/internal/tabular"
	"github.com/ehr/theranostics/internal/warehouse"
	"github.com/ehr/theranostics/pkg/pagination"
)

var (
	ErrMissingInput      = errors.New("missing required input")
	ErrWarehouseDisabled = errors.New("warehouse load requested but no database is configured")
)

// Artifact formats reported in Result.Format.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatNDJSON  = "ndjson"
)

// Result describes one completed run. Path is the artifact actually
// written, which differs from the requested path when a columnar write
// degraded to CSV.
type Result struct {
	RunID     string `json:"run_id"`
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	Skipped   int    `json:"skipped"`
	Path      string `json:"path"`
	Format    string `json:"format"`
	Degraded  bool   `json:"degraded"`
	ObjectURI string `json:"object_uri,omitempty"`
	Loaded    int64  `json:"loaded,omitempty"`
}

type ImagingRequest struct {
	Dir     string `json:"dir"`
	Out     string `json:"out"`
	Parquet bool   `json:"parquet"`
	LoadDB  bool   `json:"load_db"`
	// Workers overrides the service default when positive.
	Workers int `json:"workers"`
}

type PatientsRequest struct {
	BaseURL  string `json:"base_url"`
	Out      string `json:"out"`
	PageSize int    `json:"page_size"`
	CSV      bool   `json:"csv"`
	// Normalize writes normalised records instead of raw resources as NDJSON.
	Normalize bool `json:"normalize"`
}

type Service struct {
	logger    zerolog.Logger
	extractor *imaging.Extractor
	tabular   *tabular.Writer
	patients  *patient.Writer
	workers   int
	fhirOpts  []fhirclient.Option

	store     blobstore.Store
	loader    *warehouse.Loader
	publisher events.Publisher

	now func() time.Time
}

// NewService wires the ingestion flows. dec is required; a nil columnar
// encoder makes every parquet request degrade to CSV.
func NewService(dec imaging.Decoder, columnar tabular.ColumnarEncoder, logger zerolog.Logger) (*Service, error) {
	ex, err := imaging.NewExtractor(dec)
	if err != nil {
		return nil, err
	}
	return &Service{
		logger:    logger.With().Str("component", "ingest").Logger(),
		extractor: ex,
		tabular:   tabular.NewWriter(columnar),
		patients:  patient.NewWriter(),
		workers:   1,
		publisher: events.NopPublisher{},
		now:       time.Now,
	}, nil
}

// SetWorkers sets the default extraction concurrency.
func (s *Service) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// SetFHIROptions configures every paginator created by FetchPatients.
func (s *Service) SetFHIROptions(opts ...fhirclient.Option) {
	s.fhirOpts = opts
}

// SetStore attaches an artifact store. Written artifacts are uploaded to it.
func (s *Service) SetStore(store blobstore.Store) {
	s.store = store
}

// SetLoader attaches the warehouse loader used by ImagingRequest.LoadDB.
func (s *Service) SetLoader(l *warehouse.Loader) {
	s.loader = l
}

func (s *Service) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.NopPublisher{}
	}
	s.publisher = p
}

// IngestDirectory extracts metadata from every file under req.Dir and
// writes the table to req.Out. Files that cannot be decoded are skipped.
func (s *Service) IngestDirectory(ctx context.Context, req ImagingRequest) (Result, error) {
	if req.Dir == "" || req.Out == "" {
		return Result{}, fmt.Errorf("%w: dir and out are required", ErrMissingInput)
	}
	if req.LoadDB && s.loader == nil {
		return Result{}, ErrWarehouseDisabled
	}

	runID := uuid.NewString()
	log := s.logger.With().Str("run_id", runID).Str("kind", events.KindImaging).Logger()

	workers := s.workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	start := s.now()
	walker := imaging.NewWalker(s.extractor, imaging.WithConcurrency(workers))
	records, skipped := walker.Collect(req.Dir)
	for _, sk := range skipped {
		log.Debug().Str("path", sk.Path).Err(sk.Err).Msg("skipping file")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	format := tabular.FormatCSV
	if req.Parquet {
		format = tabular.FormatParquet
	}
	wr, err := s.tabular.Write(records, req.Out, format)
	if err != nil {
		return Result{}, fmt.Errorf("write imaging table: %w", err)
	}
	if wr.Degraded {
		log.Warn().Str("path", wr.Path).Msg("columnar write failed, wrote CSV instead")
	}

	res := Result{
		RunID:    runID,
		Kind:     events.KindImaging,
		Count:    len(records),
		Skipped:  len(skipped),
		Path:     wr.Path,
		Format:   string(wr.Format),
		Degraded: wr.Degraded,
	}

	var sinkErrs []error
	if req.LoadDB {
		n, err := s.loader.Load(ctx, runID, records)
		if err != nil {
			sinkErrs = append(sinkErrs, err)
		}
		res.Loaded = n
	}
	sinkErrs = append(sinkErrs, s.finish(ctx, &res)...)

	log.Info().
		Int("count", res.Count).
		Int("skipped", res.Skipped).
		Str("path", res.Path).
		Dur("elapsed", s.now().Sub(start)).
		Msg("imaging ingest complete")

	return res, sinkError(sinkErrs)
}

// FetchPatients pages through the Patient search at req.BaseURL and writes
// every resource to req.Out as NDJSON or CSV.
func (s *Service) FetchPatients(ctx context.Context, req PatientsRequest) (Result, error) {
	if req.BaseURL == "" || req.Out == "" {
		return Result{}, fmt.Errorf("%w: base_url and out are required", ErrMissingInput)
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	runID := uuid.NewString()
	log := s.logger.With().Str("run_id", runID).Str("kind", events.KindPatients).Logger()
	start := s.now()

	resources, err := fhirclient.NewPaginator(s.fhirOpts...).FetchAll(ctx, req.BaseURL, pageSize)
	if err != nil {
		return Result{}, fmt.Errorf("fetch patients: %w", err)
	}

	format := FormatNDJSON
	if req.CSV {
		format = FormatCSV
	}
	if req.Normalize && !req.CSV {
		records := make([]patient.Record, len(resources))
		for i, r := range resources {
			records[i] = patient.Normalize(r.Resource)
		}
		err = s.patients.WriteRecords(req.Out, records, false)
	} else {
		err = s.patients.WriteResources(req.Out, resources, req.CSV)
	}
	if err != nil {
		return Result{}, fmt.Errorf("write patients: %w", err)
	}

	res := Result{
		RunID:  runID,
		Kind:   events.KindPatients,
		Count:  len(resources),
		Path:   req.Out,
		Format: format,
	}
	sinkErrs := s.finish(ctx, &res)

	log.Info().
		Int("count", res.Count).
		Str("path", res.Path).
		Dur("elapsed", s.now().Sub(start)).
		Msg("patient fetch complete")

	return res, sinkError(sinkErrs)
}

// finish uploads the artifact and announces the run. The event is
// published even when the upload failed so consumers still see the local
// artifact.
func (s *Service) finish(ctx context.Context, res *Result) []error {
	var errs []error
	if s.store != nil {
		obj, err := s.store.Put(ctx, blobstore.ObjectKey(res.Kind, res.RunID, res.Path), res.Path)
		if err != nil {
			errs = append(errs, err)
		} else {
			res.ObjectURI = obj.URI
		}
	}

	evt := events.IngestCompleted{
		RunID:       res.RunID,
		Kind:        res.Kind,
		Count:       res.Count,
		Skipped:     res.Skipped,
		Artifact:    res.Path,
		Format:      res.Format,
		Degraded:    res.Degraded,
		ObjectURI:   res.ObjectURI,
		CompletedAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// SinkError reports sink failures for a run whose artifact was written.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return "ingest sinks: " + e.Err.Error()
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

func sinkError(errs []error) error {
	if err := errors.Join(errs...); err != nil {
		return &SinkError{Err: err}
	}
	return nil
}

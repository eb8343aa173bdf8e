package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ehr/rounding/internal/domain/rounding"
	"github.com/ehr/rounding/internal/platform/auth"
)

// SheetExporter loads a sheet and exports it. *rounding.Service implements it.
type SheetExporter interface {
	ExportSheet(ctx context.Context, id uuid.UUID, format rounding.ExportFormat) (*rounding.ExportArtifact, error)
}

// Worker consumes TypeExportSheet tasks.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	exporter SheetExporter
	logger   zerolog.Logger
}

func NewWorker(redis asynq.RedisConnOpt, concurrency int, exporter SheetExporter, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	w := &Worker{
		server: asynq.NewServer(redis, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{QueueExports: 1},
			Logger:      asynqLogger{logger},
		}),
		mux:      asynq.NewServeMux(),
		exporter: exporter,
		logger:   logger,
	}
	w.mux.HandleFunc(TypeExportSheet, w.HandleExportSheet)
	return w
}

// Run blocks until the process receives a termination signal.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// HandleExportSheet renders and stores one export. Malformed payloads and
// sheets deleted since enqueueing are not retried.
func (w *Worker) HandleExportSheet(ctx context.Context, t *asynq.Task) error {
	var p ExportPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode export payload: %v: %w", err, asynq.SkipRetry)
	}
	sheetID, err := uuid.Parse(p.SheetID)
	if err != nil {
		return fmt.Errorf("invalid sheet id %q: %w", p.SheetID, asynq.SkipRetry)
	}
	format, err := rounding.ParseExportFormat(p.Format)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	ctx = auth.WithActor(ctx, auth.Actor{ID: p.RequestedBy}, nil)
	art, err := w.exporter.ExportSheet(ctx, sheetID, format)
	if err != nil {
		if errors.Is(err, rounding.ErrSheetNotFound) {
			w.logger.Warn().Str("sheet_id", p.SheetID).Msg("sheet deleted before export ran, skipping")
			return nil
		}
		return err
	}

	w.logger.Info().
		Str("sheet_id", p.SheetID).
		Str("format", string(format)).
		Str("blob_id", art.BlobID).
		Str("requested_by", p.RequestedBy).
		Msg("background export complete")
	return nil
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }

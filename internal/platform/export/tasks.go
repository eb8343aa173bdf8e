package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ehr/rounding/internal/domain/rounding"
)

const (
	TypeExportSheet = "rounding:export-sheet"
	QueueExports    = "exports"
)

// ExportPayload is the task body of TypeExportSheet.
type ExportPayload struct {
	SheetID     string `json:"sheet_id"`
	Format      string `json:"format"`
	RequestedBy string `json:"requested_by"`
}

func NewExportSheetTask(sheetID uuid.UUID, format rounding.ExportFormat, requestedBy string) (*asynq.Task, error) {
	payload, err := json.Marshal(ExportPayload{
		SheetID:     sheetID.String(),
		Format:      string(format),
		RequestedBy: requestedBy,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExportSheet, payload,
		asynq.Queue(QueueExports),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	), nil
}

// taskClient is the subset of *asynq.Client the enqueuer uses.
type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskEnqueuer schedules export jobs on Redis. It satisfies rounding.ExportQueue.
type TaskEnqueuer struct {
	client taskClient
}

func NewTaskEnqueuer(client *asynq.Client) *TaskEnqueuer {
	return &TaskEnqueuer{client: client}
}

func (q *TaskEnqueuer) EnqueueExport(ctx context.Context, sheetID uuid.UUID, format rounding.ExportFormat, requestedBy string) (string, error) {
	task, err := NewExportSheetTask(sheetID, format, requestedBy)
	if err != nil {
		return "", fmt.Errorf("build export task: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue export task: %w", err)
	}
	return info.ID, nil
}

package rounding

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type ExportFormat string

const (
	FormatPDF  ExportFormat = "pdf"
	FormatXLSX ExportFormat = "xlsx"
)

func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", &ValidationError{Field: "format", Message: fmt.Sprintf("unsupported export format %q", s)}
}

// ExportArtifact is a rendered sheet. BlobID is set once the artifact has been stored.
type ExportArtifact struct {
	SheetID     uuid.UUID `json:"sheet_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	BlobID      string    `json:"blob_id,omitempty"`
	Data        []byte    `json:"-"`
}

// Exporter renders a sheet. tpl is nil when the originating template has been deleted.
type Exporter interface {
	Export(ctx context.Context, sheet *SheetInstance, tpl *Template, format ExportFormat) (*ExportArtifact, error)
}

// ExportQueue schedules an export to run in the background and returns the job id.
type ExportQueue interface {
	EnqueueExport(ctx context.Context, sheetID uuid.UUID, format ExportFormat, requestedBy string) (string, error)
}

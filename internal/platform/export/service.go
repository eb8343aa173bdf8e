package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/rounding/internal/domain/rounding"
	"github.com/ehr/rounding/internal/platform/auth"
	"github.com/ehr/rounding/internal/platform/blobstore"
)

// Service renders sheets and keeps every artifact in the blob store. It
// satisfies rounding.Exporter.
type Service struct {
	renderers map[rounding.ExportFormat]Renderer
	store     blobstore.BlobStore
	logger    zerolog.Logger
}

func NewService(store blobstore.BlobStore, renderers map[rounding.ExportFormat]Renderer, logger zerolog.Logger) *Service {
	if renderers == nil {
		renderers = DefaultRenderers()
	}
	return &Service{renderers: renderers, store: store, logger: logger}
}

func (s *Service) Export(ctx context.Context, sheet *rounding.SheetInstance, tpl *rounding.Template, format rounding.ExportFormat) (*rounding.ExportArtifact, error) {
	r, ok := s.renderers[format]
	if !ok {
		return nil, &rounding.ValidationError{Field: "format", Message: fmt.Sprintf("no renderer for format %q", format)}
	}

	data, err := r.Render(sheet, tpl)
	if err != nil {
		return nil, err
	}

	art := &rounding.ExportArtifact{
		SheetID:     sheet.ID,
		FileName:    FileName(sheet, r.Extension()),
		ContentType: r.ContentType(),
		Data:        data,
	}
	if s.store == nil {
		return art, nil
	}

	meta, err := s.store.Upload(ctx, blobstore.BlobMetadata{
		FileName:    art.FileName,
		ContentType: art.ContentType,
		SheetID:     sheet.ID.String(),
		Category:    blobstore.CategoryRoundingSheet,
		CreatedBy:   auth.UserIDFromContext(ctx),
		Tags: map[string]string{
			"format": string(format),
			"unit":   sheet.Unit,
			"date":   sheet.Date,
			"shift":  string(sheet.Shift),
			"status": string(sheet.Status),
		},
	}, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}
	art.BlobID = meta.ID

	s.logger.Debug().
		Str("sheet_id", sheet.ID.String()).
		Str("blob_id", meta.ID).
		Int64("size", meta.Size).
		Msg("export artifact stored")
	return art, nil
}

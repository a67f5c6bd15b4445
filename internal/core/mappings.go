package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

// GetMapping returns the sheet's active mapping definition.
func (s *Service) GetMapping(ctx context.Context, sheetID int64) (*ingest.MappingDefinition, error) {
	q := s.queries
	if _, err := q.GetSheet(ctx, sheetID); err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}
	def, err := loadMapping(ctx, q, sheetID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, ErrMappingNotFound
	}
	return def, nil
}

// SetMapping creates or replaces the sheet's mapping definition. It does not
// reprocess the sheet.
func (s *Service) SetMapping(ctx context.Context, sheetID int64, def ingest.MappingDefinition) (*ingest.MappingDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	q := s.queries
	if _, err := q.GetSheet(ctx, sheetID); err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}
	if err := upsertMapping(ctx, q, sheetID, &def); err != nil {
		return nil, err
	}
	return def.Clone(), nil
}

// ApplyTemplate copies a template's rules onto the sheet, replacing any
// existing definition. The sheet gets its own copy, never a shared one.
func (s *Service) ApplyTemplate(ctx context.Context, sheetID int64, templateID string) (*ingest.MappingDefinition, error) {
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	q := s.queries
	if _, err := q.GetSheet(ctx, sheetID); err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}

	def := tpl.Definition()
	if err := upsertMapping(ctx, q, sheetID, def); err != nil {
		return nil, err
	}
	return def, nil
}

func upsertMapping(ctx context.Context, q *database.Queries, sheetID int64, def *ingest.MappingDefinition) error {
	mappings, err := encodeMappings(def.Mappings)
	if err != nil {
		return err
	}
	_, err = q.UpsertMappingDefinition(ctx, database.UpsertMappingDefinitionParams{
		SheetID:        sheetID,
		Mappings:       mappings,
		IgnoreUnmapped: def.IgnoreUnmapped,
	})
	if err != nil {
		return fmt.Errorf("upsert mapping definition: %w", err)
	}
	return nil
}

// loadMapping returns nil without error when the sheet has no definition.
func loadMapping(ctx context.Context, q *database.Queries, sheetID int64) (*ingest.MappingDefinition, error) {
	row, err := q.GetMappingDefinition(ctx, sheetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get mapping definition: %w", err)
	}
	mappings, err := decodeMappings(row.Mappings)
	if err != nil {
		return nil, err
	}
	return &ingest.MappingDefinition{Mappings: mappings, IgnoreUnmapped: row.IgnoreUnmapped}, nil
}

func encodeMappings(m []ingest.FieldMapping) ([]byte, error) {
	if m == nil {
		m = []ingest.FieldMapping{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode mappings: %w", err)
	}
	return b, nil
}

func decodeMappings(b []byte) ([]ingest.FieldMapping, error) {
	out := []ingest.FieldMapping{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode mappings: %w", err)
	}
	return out, nil
}

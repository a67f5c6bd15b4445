package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getMappingDefinition = `SELECT sheet_id, mappings, ignore_unmapped, updated_at
FROM mapping_definitions WHERE sheet_id = $1`

func (q *Queries) GetMappingDefinition(ctx context.Context, sheetID int64) (MappingDefinition, error) {
	row := q.db.QueryRow(ctx, getMappingDefinition, sheetID)
	var i MappingDefinition
	err := row.Scan(&i.SheetID, &i.Mappings, &i.IgnoreUnmapped, &i.UpdatedAt)
	return i, err
}

const upsertMappingDefinition = `INSERT INTO mapping_definitions (sheet_id, mappings, ignore_unmapped, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (sheet_id) DO UPDATE
SET mappings = EXCLUDED.mappings,
    ignore_unmapped = EXCLUDED.ignore_unmapped,
    updated_at = NOW()
RETURNING sheet_id, mappings, ignore_unmapped, updated_at`

type UpsertMappingDefinitionParams struct {
	SheetID        int64
	Mappings       []byte
	IgnoreUnmapped bool
}

// UpsertMappingDefinition creates or fully replaces the sheet's rule set.
func (q *Queries) UpsertMappingDefinition(ctx context.Context, arg UpsertMappingDefinitionParams) (MappingDefinition, error) {
	row := q.db.QueryRow(ctx, upsertMappingDefinition, arg.SheetID, arg.Mappings, arg.IgnoreUnmapped)
	var i MappingDefinition
	err := row.Scan(&i.SheetID, &i.Mappings, &i.IgnoreUnmapped, &i.UpdatedAt)
	return i, err
}

const templateColumns = `id, name, description, mappings, ignore_unmapped, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (MappingTemplate, error) {
	var i MappingTemplate
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.Mappings,
		&i.IgnoreUnmapped,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createTemplate = `INSERT INTO mapping_templates (id, name, description, mappings, ignore_unmapped)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + templateColumns

type CreateTemplateParams struct {
	ID             pgtype.UUID
	Name           string
	Description    pgtype.Text
	Mappings       []byte
	IgnoreUnmapped bool
}

func (q *Queries) CreateTemplate(ctx context.Context, arg CreateTemplateParams) (MappingTemplate, error) {
	row := q.db.QueryRow(ctx, createTemplate, arg.ID, arg.Name, arg.Description, arg.Mappings, arg.IgnoreUnmapped)
	return scanTemplate(row)
}

const getTemplate = `SELECT ` + templateColumns + ` FROM mapping_templates WHERE id = $1`

func (q *Queries) GetTemplate(ctx context.Context, id pgtype.UUID) (MappingTemplate, error) {
	return scanTemplate(q.db.QueryRow(ctx, getTemplate, id))
}

const listTemplates = `SELECT ` + templateColumns + ` FROM mapping_templates ORDER BY name`

func (q *Queries) ListTemplates(ctx context.Context) ([]MappingTemplate, error) {
	rows, err := q.db.Query(ctx, listTemplates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MappingTemplate
	for rows.Next() {
		i, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateTemplate = `UPDATE mapping_templates
SET name = $2, description = $3, mappings = $4, ignore_unmapped = $5, updated_at = NOW()
WHERE id = $1
RETURNING ` + templateColumns

type UpdateTemplateParams struct {
	ID             pgtype.UUID
	Name           string
	Description    pgtype.Text
	Mappings       []byte
	IgnoreUnmapped bool
}

func (q *Queries) UpdateTemplate(ctx context.Context, arg UpdateTemplateParams) (MappingTemplate, error) {
	row := q.db.QueryRow(ctx, updateTemplate, arg.ID, arg.Name, arg.Description, arg.Mappings, arg.IgnoreUnmapped)
	return scanTemplate(row)
}

const deleteTemplate = `DELETE FROM mapping_templates WHERE id = $1`

func (q *Queries) DeleteTemplate(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteTemplate, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

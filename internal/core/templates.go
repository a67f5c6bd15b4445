package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

// TemplateMatchThreshold is the minimum share of a template's sources that
// must appear in the headers for MatchTemplates to suggest it.
const TemplateMatchThreshold = 0.7

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// CreateTemplate stores a new named template.
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (*Template, error) {
	mappings, err := validateTemplate(in)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	q := s.queries
	row, err := q.CreateTemplate(ctx, database.CreateTemplateParams{
		ID:             pgtype.UUID{Bytes: id, Valid: true},
		Name:           strings.TrimSpace(in.Name),
		Description:    pgtype.Text{String: in.Description, Valid: in.Description != ""},
		Mappings:       mappings,
		IgnoreUnmapped: in.IgnoreUnmapped,
	})
	if err != nil {
		return nil, templateWriteError("create template", err)
	}
	return dbTemplateToTemplate(row)
}

// GetTemplate returns a template by id.
func (s *Service) GetTemplate(ctx context.Context, id string) (*Template, error) {
	uid, err := parseTemplateID(id)
	if err != nil {
		return nil, err
	}

	row, err := s.queries.GetTemplate(ctx, uid)
	if err != nil {
		return nil, notFound(err, ErrTemplateNotFound)
	}
	return dbTemplateToTemplate(row)
}

// ListTemplates returns all templates ordered by name.
func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.queries.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	out := make([]Template, 0, len(rows))
	for _, row := range rows {
		t, err := dbTemplateToTemplate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// UpdateTemplate replaces a template's name, description and rules. Sheets
// that already applied it keep their own copy.
func (s *Service) UpdateTemplate(ctx context.Context, id string, in TemplateInput) (*Template, error) {
	uid, err := parseTemplateID(id)
	if err != nil {
		return nil, err
	}
	mappings, err := validateTemplate(in)
	if err != nil {
		return nil, err
	}

	row, err := s.queries.UpdateTemplate(ctx, database.UpdateTemplateParams{
		ID:             uid,
		Name:           strings.TrimSpace(in.Name),
		Description:    pgtype.Text{String: in.Description, Valid: in.Description != ""},
		Mappings:       mappings,
		IgnoreUnmapped: in.IgnoreUnmapped,
	})
	if err != nil {
		return nil, notFound(templateWriteError("update template", err), ErrTemplateNotFound)
	}
	return dbTemplateToTemplate(row)
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	uid, err := parseTemplateID(id)
	if err != nil {
		return err
	}

	n, err := s.queries.DeleteTemplate(ctx, uid)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// MatchTemplates suggests templates for a header row, best first.
func (s *Service) MatchTemplates(ctx context.Context, headers []string) ([]TemplateMatch, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	return matchTemplates(templates, headers), nil
}

func matchTemplates(templates []Template, headers []string) []TemplateMatch {
	matches := []TemplateMatch{}
	for _, t := range templates {
		score := matchScore(headers, t.Definition().Sources())
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// matchScore is the share of sources found among the headers, compared
// trimmed and case-insensitively.
func matchScore(headers, sources []string) float64 {
	if len(sources) == 0 {
		return 0
	}

	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}

	matched := 0
	for _, src := range sources {
		if present[strings.ToLower(strings.TrimSpace(src))] {
			matched++
		}
	}
	return float64(matched) / float64(len(sources))
}

func validateTemplate(in TemplateInput) ([]byte, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	def := ingest.MappingDefinition{Mappings: in.Mappings, IgnoreUnmapped: in.IgnoreUnmapped}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	return encodeMappings(in.Mappings)
}

func parseTemplateID(id string) (pgtype.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: invalid id %q", ErrTemplateNotFound, id)
	}
	return pgtype.UUID{Bytes: uid, Valid: true}, nil
}

func templateWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrTemplateExists
	}
	return fmt.Errorf("%s: %w", op, err)
}

// dbTemplateToTemplate converts a database template to the API type.
func dbTemplateToTemplate(t database.MappingTemplate) (*Template, error) {
	mappings, err := decodeMappings(t.Mappings)
	if err != nil {
		return nil, err
	}

	id := ""
	if t.ID.Valid {
		id = uuid.UUID(t.ID.Bytes).String()
	}

	return &Template{
		ID:             id,
		Name:           t.Name,
		Description:    t.Description.String,
		Mappings:       mappings,
		IgnoreUnmapped: t.IgnoreUnmapped,
		CreatedAt:      timeOf(t.CreatedAt),
		UpdatedAt:      timeOf(t.UpdatedAt),
	}, nil
}

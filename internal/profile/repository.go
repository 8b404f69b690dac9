// Package profile reads and writes enrollment profiles, schools and class sections.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eremconecta/portal/internal/data"
	"github.com/eremconecta/portal/internal/model"
)

const (
	// AvatarColumn is optional: older schemas do not have it.
	AvatarColumn = "avatar_url"

	DefaultLatestLimit = 10

	// UnnamedUser is shown in the admin list for profiles without a name.
	UnnamedUser = "Sem nome"

	tableProfiles = "profiles"
	tableSchools  = "escolas"
	tableClasses  = "turmas"
)

// Repository is the profile data access layer.
type Repository struct {
	store  data.Store
	logger *slog.Logger
}

// NewRepository returns a repository over store. A nil logger uses slog.Default().
func NewRepository(store data.Store, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{store: store, logger: logger}
}

func classEmbed() data.Column {
	return data.Nest("turma", tableClasses, "turma_id",
		append(data.Col("id", "nome", "ano"),
			data.Nest("escola", tableSchools, "escola_id", data.Col("id", "nome")...),
		)...,
	)
}

// loadQuery is the projection of the current principal's profile.
func loadQuery(userID string) data.Query {
	cols := data.Col("id", "name", "user_type", AvatarColumn, "deficiencia", "turma_id", "escola_id", "created_at")
	cols = append(cols,
		classEmbed(),
		data.Nest("escola", tableSchools, "escola_id", data.Col("id", "nome", "endereco")...),
	)
	return data.From(tableProfiles, cols...).Where(data.Eq("id", userID)).One()
}

func listQuery() data.Query {
	cols := data.Col("id", "name", "user_type", "deficiencia", "turma_id", "escola_id", "created_at", AvatarColumn)
	cols = append(cols,
		classEmbed(),
		data.Nest("escola", tableSchools, "escola_id", data.Col("id", "nome")...),
	)
	return data.From(tableProfiles, cols...).OrderBy("created_at", true)
}

// selectWithFallback runs q, and when the store reports the avatar column missing runs it
// exactly once more without that column.
func (r *Repository) selectWithFallback(ctx context.Context, q data.Query, dest any) error {
	err := r.store.Select(ctx, q, dest)
	if err == nil || !q.Has(AvatarColumn) || !data.IsMissingColumn(err, AvatarColumn) {
		return err
	}
	r.logger.Warn("avatar column missing, retrying without it", "table", q.Table, "error", err)
	return r.store.Select(ctx, q.Without(AvatarColumn), dest)
}

// Load returns the profile of userID, or nil when the principal has not enrolled yet.
func (r *Repository) Load(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := r.selectWithFallback(ctx, loadQuery(userID), &p)
	if errors.Is(err, data.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Latest returns the most recently created profiles. limit <= 0 means DefaultLatestLimit.
func (r *Repository) Latest(ctx context.Context, limit int) ([]model.Profile, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	q := data.From(tableProfiles, data.Col("id", "name", "user_type", "turma_id", "escola_id", "created_at")...).
		OrderBy("created_at", true).
		First(limit)

	rows := []model.Profile{}
	if err := r.store.Select(ctx, q, &rows); err != nil {
		return nil, fmt.Errorf("select latest profiles: %w", err)
	}
	return rows, nil
}

// List returns every profile, newest first, for the admin users page.
func (r *Repository) List(ctx context.Context) ([]model.Profile, error) {
	rows := []model.Profile{}
	if err := r.selectWithFallback(ctx, listQuery(), &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Name == nil {
			name := UnnamedUser
			rows[i].Name = &name
		}
	}
	return rows, nil
}

// Schools returns every school ordered by name.
func (r *Repository) Schools(ctx context.Context) ([]model.School, error) {
	q := data.From(tableSchools, data.Col("id", "nome", "endereco")...).OrderBy("nome", false)
	rows := []model.School{}
	if err := r.store.Select(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Classes returns the class sections of schoolID ordered by name.
func (r *Repository) Classes(ctx context.Context, schoolID string) ([]model.ClassSection, error) {
	if schoolID == "" {
		return []model.ClassSection{}, nil
	}
	q := data.From(tableClasses, data.Col("id", "nome", "ano", "escola_id")...).
		Where(data.Eq("escola_id", schoolID)).
		OrderBy("nome", false)
	rows := []model.ClassSection{}
	if err := r.store.Select(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Enroll writes the profile row of principalID.
func (r *Repository) Enroll(ctx context.Context, principalID string, req model.EnrollmentRequest) error {
	if principalID == "" {
		return errors.New("enroll: principal id is required")
	}
	if err := model.Validate(req); err != nil {
		return err
	}
	return r.store.Upsert(ctx, tableProfiles, req.Row(principalID))
}

// UpdateEnrollment moves userID to another school and class.
func (r *Repository) UpdateEnrollment(ctx context.Context, userID, schoolID, classID string) error {
	return r.store.Update(ctx, tableProfiles, map[string]any{
		"escola_id": schoolID,
		"turma_id":  classID,
	}, data.Eq("id", userID))
}

// Update applies patch to the profile of userID. When the avatar column is missing the
// update is retried once without it.
func (r *Repository) Update(ctx context.Context, userID string, patch model.ProfilePatch) error {
	if err := model.Validate(patch); err != nil {
		return err
	}
	fields := patch.Fields()
	if len(fields) == 0 {
		return nil
	}
	err := r.store.Update(ctx, tableProfiles, fields, data.Eq("id", userID))
	if _, hasAvatar := fields[AvatarColumn]; err == nil || !hasAvatar || !data.IsMissingColumn(err, AvatarColumn) {
		return err
	}

	r.logger.Warn("avatar column missing, saving profile without it", "user_id", userID)
	delete(fields, AvatarColumn)
	if len(fields) == 0 {
		return nil
	}
	return r.store.Update(ctx, tableProfiles, fields, data.Eq("id", userID))
}

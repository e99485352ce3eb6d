package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, ownerID int64) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, title, description, done, due_at, created_at, updated_at
		FROM tasks
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		var dueAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Done, &dueAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if dueAt.Valid {
			value := dueAt.Time.UTC()
			t.DueAt = &value
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (r *Repository) Create(ctx context.Context, ownerID int64, input TaskInput) (Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Task{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	t := Task{
		ID:          id.String(),
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		Done:        input.Done,
		DueAt:       input.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, owner_id, title, description, done, due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.OwnerID, t.Title, t.Description, t.Done, t.DueAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	return t, nil
}

func (r *Repository) Update(ctx context.Context, ownerID int64, id string, input TaskInput) (Task, error) {
	var t Task
	var dueAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET title = $3, description = $4, done = $5, due_at = $6, updated_at = $7
		WHERE id = $1 AND owner_id = $2
		RETURNING id, owner_id, title, description, done, due_at, created_at, updated_at
	`, id, ownerID, input.Title, input.Description, input.Done, input.DueAt, time.Now().UTC()).
		Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Done, &dueAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if dueAt.Valid {
		value := dueAt.Time.UTC()
		t.DueAt = &value
	}

	return t, nil
}

func (r *Repository) Delete(ctx context.Context, ownerID int64, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

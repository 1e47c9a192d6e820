package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"labreserve/internal/models"
)

type labRepo struct{ q queryer }

const labColumns = `id, name, capacity, equipment, building, floor, status, hourly_rate, created_at, updated_at`

func (r labRepo) GetLab(ctx context.Context, id string) (*models.Lab, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+labColumns+` FROM labs WHERE id = ?`, id)
	lab, err := scanLab(row)
	if err != nil {
		return nil, translate(err)
	}
	return lab, nil
}

func (r labRepo) ListLabs(ctx context.Context, filter models.LabFilter) ([]*models.Lab, error) {
	query := `SELECT ` + labColumns + ` FROM labs WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		query += ` AND (name LIKE ? OR building LIKE ?)`
		like := "%" + term + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	defer rows.Close()

	var labs []*models.Lab
	for rows.Next() {
		lab, err := scanLab(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lab: %w", err)
		}
		labs = append(labs, lab)
	}
	return labs, rows.Err()
}

func (r labRepo) CreateLab(ctx context.Context, lab *models.Lab) error {
	equipment, err := json.Marshal(nonNil(lab.Equipment))
	if err != nil {
		return fmt.Errorf("failed to encode equipment: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO labs (`+labColumns+`) VALUES (`+placeholders(10)+`)`,
		lab.ID,
		lab.Name,
		lab.Capacity,
		string(equipment),
		lab.Building,
		lab.Floor,
		lab.Status,
		lab.HourlyRate,
		lab.CreatedAt.UTC(),
		lab.UpdatedAt.UTC(),
	)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r labRepo) UpdateLab(ctx context.Context, lab *models.Lab) error {
	equipment, err := json.Marshal(nonNil(lab.Equipment))
	if err != nil {
		return fmt.Errorf("failed to encode equipment: %w", err)
	}
	res, err := r.q.ExecContext(ctx, `UPDATE labs SET name = ?, capacity = ?, equipment = ?, building = ?, floor = ?,
			status = ?, hourly_rate = ?, updated_at = ? WHERE id = ?`,
		lab.Name,
		lab.Capacity,
		string(equipment),
		lab.Building,
		lab.Floor,
		lab.Status,
		lab.HourlyRate,
		lab.UpdatedAt.UTC(),
		lab.ID,
	)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (r labRepo) DeleteLab(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM labs WHERE id = ?`, id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLab(row rowScanner) (*models.Lab, error) {
	var lab models.Lab
	var equipment string
	err := row.Scan(
		&lab.ID,
		&lab.Name,
		&lab.Capacity,
		&equipment,
		&lab.Building,
		&lab.Floor,
		&lab.Status,
		&lab.HourlyRate,
		&lab.CreatedAt,
		&lab.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(equipment), &lab.Equipment); err != nil {
		return nil, fmt.Errorf("failed to decode equipment of lab %s: %w", lab.ID, err)
	}
	return &lab, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

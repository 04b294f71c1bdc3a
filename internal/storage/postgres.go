package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/task-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) CreateRider(ctx context.Context, r *models.Rider) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO riders(id, developer_id, name, phone, email, vehicle_type, tags, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.DeveloperID, r.Name, r.Phone, r.Email, r.VehicleType, pq.Array(r.Tags), r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRider(ctx context.Context, id, developerID string) (*models.Rider, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, developer_id, name, phone, email, vehicle_type, tags, created_at
		 FROM riders WHERE id=$1 AND developer_id=$2`, id, developerID)
	return scanRider(row)
}

func (p *PostgresStore) ListRiders(ctx context.Context, developerID string) ([]models.Rider, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, developer_id, name, phone, email, vehicle_type, tags, created_at
		 FROM riders WHERE developer_id=$1 ORDER BY created_at`, developerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Rider
	for rows.Next() {
		r, err := scanRider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRider(row rowScanner) (*models.Rider, error) {
	var r models.Rider
	var email sql.NullString
	err := row.Scan(&r.ID, &r.DeveloperID, &r.Name, &r.Phone, &email, &r.VehicleType, pq.Array(&r.Tags), &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Email = email.String
	return &r, nil
}

// CreateTask inserts the task row and all waypoint rows in one
// transaction so a task can never exist half-built.
func (p *PostgresStore) CreateTask(ctx context.Context, t *models.Task, waypoints []models.Waypoint) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks(id, developer_id, description, auto_assign, status, rider_id,
		                   pickup_lat, pickup_lng, pickup_address,
		                   destination_lat, destination_lng, destination_address,
		                   created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.DeveloperID, t.Description, t.AutoAssign, t.Status, t.RiderID,
		t.Pickup.Lat, t.Pickup.Lng, t.PickupAddress,
		t.Destination.Lat, t.Destination.Lng, t.DestAddress,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO waypoints(task_id, latitude, longitude, address, type, description,
		                       time_window_start, time_window_end, priority)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, wp := range waypoints {
		if _, err := stmt.ExecContext(ctx, t.ID, wp.Latitude, wp.Longitude, wp.Address,
			wp.Type, wp.Description, wp.TimeWindowStart, wp.TimeWindowEnd, wp.Priority); err != nil {
			return fmt.Errorf("insert waypoint: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := p.db.QueryRowContext(ctx, taskSelect+` WHERE id=$1`, id)
	return scanTask(row)
}

func (p *PostgresStore) GetTaskForDeveloper(ctx context.Context, id, developerID string) (*models.Task, error) {
	row := p.db.QueryRowContext(ctx, taskSelect+` WHERE id=$1 AND developer_id=$2`, id, developerID)
	return scanTask(row)
}

func (p *PostgresStore) ListTasks(ctx context.Context, developerID string, status models.TaskStatus) ([]models.Task, error) {
	query := taskSelect + ` WHERE developer_id=$1`
	args := []interface{}{developerID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const taskSelect = `SELECT id, developer_id, description, auto_assign, status, COALESCE(rider_id,''),
       pickup_lat, pickup_lng, pickup_address,
       destination_lat, destination_lng, destination_address,
       created_at, updated_at
  FROM tasks`

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.DeveloperID, &t.Description, &t.AutoAssign, &t.Status, &t.RiderID,
		&t.Pickup.Lat, &t.Pickup.Lng, &t.PickupAddress,
		&t.Destination.Lat, &t.Destination.Lng, &t.DestAddress,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) ListWaypoints(ctx context.Context, taskID string) ([]models.Waypoint, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT task_id, latitude, longitude, address, type, COALESCE(description,''),
		        time_window_start, time_window_end, COALESCE(priority,'')
		 FROM waypoints WHERE task_id=$1 ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Waypoint
	for rows.Next() {
		var wp models.Waypoint
		if err := rows.Scan(&wp.TaskID, &wp.Latitude, &wp.Longitude, &wp.Address, &wp.Type,
			&wp.Description, &wp.TimeWindowStart, &wp.TimeWindowEnd, &wp.Priority); err != nil {
			return nil, err
		}
		out = append(out, wp)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), id)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

func (p *PostgresStore) UpdateTaskAssignment(ctx context.Context, id, riderID string, status models.TaskStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET status=$1, rider_id=$2, updated_at=$3 WHERE id=$4`,
		status, riderID, time.Now(), id)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

func (p *PostgresStore) DeleteTask(ctx context.Context, id, developerID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status models.TaskStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE id=$1 AND developer_id=$2`, id, developerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != models.StatusCreated && status != models.StatusAssigned {
		return ErrTerminalState
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM waypoints WHERE task_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetDeveloper(ctx context.Context, id string) (*models.Developer, error) {
	var d models.Developer
	var url sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT id, webhook_url FROM developers WHERE id=$1`, id).Scan(&d.ID, &url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.WebhookURL = url.String
	return &d, nil
}

func oneRowOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

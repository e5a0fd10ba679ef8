package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/safety-tracking/internal/lifecycle"
	"github.com/example/safety-tracking/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const alertColumns = `id, type, source, status, severity, created_at, resolved_at, search_radius, victim_device_id, victim_user_id, victim_lat, victim_lon`

func (p *PostgresStore) CreateAlert(ctx context.Context, a *models.AlertEvent) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO alerts(`+alertColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.Type, string(a.Source), string(a.Status), a.Severity, a.CreatedAt, a.ResolvedAt, a.SearchRadius,
		a.Victim.DeviceID, a.Victim.UserID, a.Victim.Loc.Lat, a.Victim.Loc.Lon)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *PostgresStore) GetAlert(ctx context.Context, id string) (models.AlertEvent, error) {
	return getAlert(ctx, p.db, id)
}

func getAlert(ctx context.Context, q queryer, id string) (models.AlertEvent, error) {
	var (
		a          models.AlertEvent
		source     string
		status     string
		resolvedAt sql.NullTime
		radius     sql.NullFloat64
	)
	err := q.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id).Scan(
		&a.ID, &a.Type, &source, &status, &a.Severity, &a.CreatedAt, &resolvedAt, &radius,
		&a.Victim.DeviceID, &a.Victim.UserID, &a.Victim.Loc.Lat, &a.Victim.Loc.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return a, fmt.Errorf("select alert %s: %w", id, err)
	}
	a.Source = models.AlertSource(source)
	a.Status = models.AlertStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if radius.Valid {
		r := radius.Float64
		a.SearchRadius = &r
	}

	rows, err := q.QueryContext(ctx, `SELECT role, responder_id, contact, responded_at FROM alert_acknowledgements WHERE alert_id=$1 ORDER BY seq`, id)
	if err != nil {
		return a, fmt.Errorf("select acknowledgements %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ack models.Acknowledgement
		var role string
		if err := rows.Scan(&role, &ack.ResponderID, &ack.Contact, &ack.RespondedAt); err != nil {
			return a, err
		}
		ack.Role = models.ActorRole(role)
		a.Acknowledgements = append(a.Acknowledgements, ack)
	}
	return a, rows.Err()
}

// UpdateAlertStatus locks the row so concurrent responders are serialized
// through the transition table.
func (p *PostgresStore) UpdateAlertStatus(ctx context.Context, id string, to models.AlertStatus, at time.Time) (models.AlertEvent, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.AlertEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	from, err := lockStatus(ctx, tx, id)
	if err != nil {
		return models.AlertEvent{}, err
	}
	if err := lifecycle.ValidateTransition(from, to); err != nil {
		return models.AlertEvent{}, err
	}
	var resolvedAt *time.Time
	if to == models.StatusResolved {
		resolvedAt = &at
	}
	if _, err := tx.ExecContext(ctx, `UPDATE alerts SET status=$1, resolved_at=COALESCE($2, resolved_at) WHERE id=$3`, string(to), resolvedAt, id); err != nil {
		return models.AlertEvent{}, fmt.Errorf("update alert %s: %w", id, err)
	}
	a, err := getAlert(ctx, tx, id)
	if err != nil {
		return a, err
	}
	return a, tx.Commit()
}

func (p *PostgresStore) AddAcknowledgement(ctx context.Context, id string, ack models.Acknowledgement) (models.AlertEvent, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.AlertEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockStatus(ctx, tx, id)
	if err != nil {
		return models.AlertEvent{}, err
	}
	if !lifecycle.CanAcknowledge(status) {
		return models.AlertEvent{}, lifecycle.ErrAlertResolved
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO alert_acknowledgements(alert_id, role, responder_id, contact, responded_at) VALUES($1,$2,$3,$4,$5)`,
		id, string(ack.Role), ack.ResponderID, ack.Contact, ack.RespondedAt); err != nil {
		return models.AlertEvent{}, fmt.Errorf("insert acknowledgement %s: %w", id, err)
	}
	a, err := getAlert(ctx, tx, id)
	if err != nil {
		return a, err
	}
	return a, tx.Commit()
}

func lockStatus(ctx context.Context, tx *sql.Tx, id string) (models.AlertStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lock alert %s: %w", id, err)
	}
	return models.AlertStatus(status), nil
}

func (p *PostgresStore) SaveLocation(ctx context.Context, pt *models.LocationPoint) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO location_points(id, device_id, lat, lon, place, speed, heading, accuracy, source, recorded_at, is_sos) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		pt.ID, pt.DeviceID, pt.Loc.Lat, pt.Loc.Lon, pt.Place, pt.Speed, pt.Heading, pt.Accuracy, pt.Source, pt.RecordedAt, pt.IsSOS)
	if err != nil {
		return fmt.Errorf("insert location %s: %w", pt.ID, err)
	}
	_, err = p.db.ExecContext(ctx, `UPDATE devices SET last_lat=$1, last_lon=$2 WHERE id=$3`, pt.Loc.Lat, pt.Loc.Lon, pt.DeviceID)
	return err
}

// History returns rows in insertion order; ordering by recorded time is the
// route reconstruction's job.
func (p *PostgresStore) History(ctx context.Context, deviceID string) ([]models.LocationPoint, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, device_id, lat, lon, place, speed, heading, accuracy, source, recorded_at, is_sos FROM location_points WHERE device_id=$1 ORDER BY seq`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("select history %s: %w", deviceID, err)
	}
	defer rows.Close()
	var out []models.LocationPoint
	for rows.Next() {
		var (
			pt                      models.LocationPoint
			speed, heading, accurcy sql.NullFloat64
		)
		if err := rows.Scan(&pt.ID, &pt.DeviceID, &pt.Loc.Lat, &pt.Loc.Lon, &pt.Place, &speed, &heading, &accurcy, &pt.Source, &pt.RecordedAt, &pt.IsSOS); err != nil {
			return nil, err
		}
		pt.Speed = nullFloat(speed)
		pt.Heading = nullFloat(heading)
		pt.Accuracy = nullFloat(accurcy)
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, owner_id, online, last_lat, last_lon FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select devices: %w", err)
	}
	defer rows.Close()
	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertDevice(ctx context.Context, d models.Device) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO devices(id, name, owner_id, online) VALUES($1,$2,$3,$4) ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, owner_id=EXCLUDED.owner_id, online=EXCLUDED.online`,
		d.ID, d.Name, d.OwnerID, d.Online)
	return err
}

func (p *PostgresStore) SetDeviceOnline(ctx context.Context, id string, online bool) (models.Device, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE devices SET online=$1 WHERE id=$2 RETURNING id, name, owner_id, online, last_lat, last_lon`, online, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return d, err
}

func (p *PostgresStore) DeleteDevice(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM devices WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (models.Device, error) {
	var (
		d        models.Device
		lat, lon sql.NullFloat64
	)
	if err := s.Scan(&d.ID, &d.Name, &d.OwnerID, &d.Online, &lat, &lon); err != nil {
		return d, err
	}
	if lat.Valid && lon.Valid {
		d.LastKnown = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return d, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/packpal/backend/internal/models"
)

const uniqueViolation = "23505"

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	queries
	pool *pgxpool.Pool
}

// NewPostgres creates a Store on top of pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{queries: queries{db: pool}, pool: pool}
}

// Tx runs fn inside one database transaction.
func (p *Postgres) Tx(ctx context.Context, fn func(q Querier) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
}

type queries struct {
	db DBTX
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func expectRow(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ===== Users =====

const userColumns = `id, first_name, last_name, email, password, role, is_active, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	const sql = `INSERT INTO users (id, first_name, last_name, email, password, role, is_active)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	err := q.db.QueryRow(ctx, sql, u.FirstName, u.LastName, u.Email, u.Password, u.Role, u.IsActive).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (q *queries) UpdateUserPassword(ctx context.Context, id uuid.UUID, hash string) error {
	const sql = `UPDATE users SET password = $1, updated_at = NOW() WHERE id = $2`
	return expectRow(q.db.Exec(ctx, sql, hash, id))
}

func (q *queries) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const sql = `UPDATE users SET last_login = $1 WHERE id = $2`
	return expectRow(q.db.Exec(ctx, sql, at, id))
}

// ===== Events =====

const eventColumns = `id, name, description, location, source, destination, start_date, end_date, owner_id, status, created_at, updated_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Location, &e.Source, &e.Destination, &e.StartDate, &e.EndDate, &e.OwnerID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (q *queries) CreateEvent(ctx context.Context, e *models.Event) error {
	const sql = `INSERT INTO events (id, name, description, location, source, destination, start_date, end_date, owner_id, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	err := q.db.QueryRow(ctx, sql, e.Name, e.Description, e.Location, e.Source, e.Destination, e.StartDate, e.EndDate, e.OwnerID, e.Status).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

func (q *queries) LockEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) ListEventsForUser(ctx context.Context, userID uuid.UUID, status *models.EventStatus) ([]models.Event, error) {
	sql := `SELECT e.id, e.name, e.description, e.location, e.source, e.destination, e.start_date, e.end_date, e.owner_id, e.status, e.created_at, e.updated_at
		FROM events e
		JOIN event_members m ON m.event_id = e.id
		WHERE m.user_id = $1 AND m.invite_status = 'accepted'`
	args := []any{userID}
	if status != nil {
		sql += ` AND e.status = $2`
		args = append(args, *status)
	}
	rows, err := q.db.Query(ctx, sql+` ORDER BY e.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

func (q *queries) UpdateEvent(ctx context.Context, e *models.Event) error {
	const sql = `UPDATE events SET name = $1, description = $2, location = $3, source = $4, destination = $5,
		start_date = $6, end_date = $7, status = $8, updated_at = NOW()
		WHERE id = $9 RETURNING updated_at`
	err := q.db.QueryRow(ctx, sql, e.Name, e.Description, e.Location, e.Source, e.Destination, e.StartDate, e.EndDate, e.Status, e.ID).
		Scan(&e.UpdatedAt)
	return mapErr(err)
}

func (q *queries) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	return expectRow(q.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id))
}

// ===== Memberships =====

const membershipColumns = `id, event_id, user_id, role, invite_status, invite_token, invite_email, created_at, updated_at`

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	err := row.Scan(&m.ID, &m.EventID, &m.UserID, &m.Role, &m.InviteStatus, &m.InviteToken, &m.InviteEmail, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (q *queries) CreateMembership(ctx context.Context, m *models.Membership) error {
	const sql = `INSERT INTO event_members (id, event_id, user_id, role, invite_status, invite_token, invite_email)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	err := q.db.QueryRow(ctx, sql, m.EventID, m.UserID, m.Role, m.InviteStatus, m.InviteToken, m.InviteEmail).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetMembership(ctx context.Context, id uuid.UUID) (*models.Membership, error) {
	return scanMembership(q.db.QueryRow(ctx, `SELECT `+membershipColumns+` FROM event_members WHERE id = $1`, id))
}

func (q *queries) GetMembershipByToken(ctx context.Context, token string) (*models.Membership, error) {
	return scanMembership(q.db.QueryRow(ctx, `SELECT `+membershipColumns+` FROM event_members WHERE invite_token = $1`, token))
}

func (q *queries) GetMembershipByEventUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Membership, error) {
	return scanMembership(q.db.QueryRow(ctx, `SELECT `+membershipColumns+` FROM event_members WHERE event_id = $1 AND user_id = $2`, eventID, userID))
}

func (q *queries) GetMembershipByEventEmail(ctx context.Context, eventID uuid.UUID, email string) (*models.Membership, error) {
	return scanMembership(q.db.QueryRow(ctx, `SELECT `+membershipColumns+` FROM event_members WHERE event_id = $1 AND invite_email = $2`, eventID, email))
}

func (q *queries) ListMembers(ctx context.Context, eventID uuid.UUID) ([]models.MemberView, error) {
	const sql = `SELECT m.id, m.event_id, m.user_id, m.role, m.invite_status, m.invite_token, m.invite_email, m.created_at, m.updated_at,
			COALESCE(u.first_name, ''), COALESCE(u.last_name, '')
		FROM event_members m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.event_id = $1
		ORDER BY m.created_at`
	rows, err := q.db.Query(ctx, sql, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.MemberView
	for rows.Next() {
		var v models.MemberView
		m := &v.Membership
		if err := rows.Scan(&m.ID, &m.EventID, &m.UserID, &m.Role, &m.InviteStatus, &m.InviteToken, &m.InviteEmail, &m.CreatedAt, &m.UpdatedAt, &v.FirstName, &v.LastName); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func (q *queries) UpdateMembership(ctx context.Context, m *models.Membership) error {
	const sql = `UPDATE event_members SET user_id = $1, role = $2, invite_status = $3, invite_token = $4, updated_at = NOW()
		WHERE id = $5 RETURNING updated_at`
	err := q.db.QueryRow(ctx, sql, m.UserID, m.Role, m.InviteStatus, m.InviteToken, m.ID).Scan(&m.UpdatedAt)
	return mapErr(err)
}

func (q *queries) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	return expectRow(q.db.Exec(ctx, `DELETE FROM event_members WHERE id = $1`, id))
}

// ===== Items =====

const itemColumns = `id, event_id, name, description, quantity, category_id, priority, is_shared, status, is_packed, assigned_to_id, created_by_id, created_at, updated_at`

func scanItem(row pgx.Row) (*models.Item, error) {
	var i models.Item
	err := row.Scan(&i.ID, &i.EventID, &i.Name, &i.Description, &i.Quantity, &i.CategoryID, &i.Priority, &i.IsShared, &i.Status, &i.IsPacked, &i.AssignedToID, &i.CreatedByID, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &i, nil
}

func (q *queries) CreateItem(ctx context.Context, i *models.Item) error {
	const sql = `INSERT INTO items (id, event_id, name, description, quantity, category_id, priority, is_shared, status, is_packed, assigned_to_id, created_by_id)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	err := q.db.QueryRow(ctx, sql, i.EventID, i.Name, i.Description, i.Quantity, i.CategoryID, i.Priority, i.IsShared, i.Status, i.IsPacked, i.AssignedToID, i.CreatedByID).
		Scan(&i.ID, &i.CreatedAt, &i.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	return scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
}

func (q *queries) ListItems(ctx context.Context, eventID uuid.UUID) ([]models.Item, error) {
	rows, err := q.db.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE event_id = $1 ORDER BY created_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *i)
	}
	return list, rows.Err()
}

func (q *queries) UpdateItem(ctx context.Context, i *models.Item) error {
	const sql = `UPDATE items SET name = $1, description = $2, quantity = $3, category_id = $4, priority = $5, is_shared = $6,
		status = $7, is_packed = $8, assigned_to_id = $9, updated_at = NOW()
		WHERE id = $10 RETURNING updated_at`
	err := q.db.QueryRow(ctx, sql, i.Name, i.Description, i.Quantity, i.CategoryID, i.Priority, i.IsShared, i.Status, i.IsPacked, i.AssignedToID, i.ID).
		Scan(&i.UpdatedAt)
	return mapErr(err)
}

func (q *queries) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return expectRow(q.db.Exec(ctx, `DELETE FROM items WHERE id = $1`, id))
}

func (q *queries) CountItemsByStatus(ctx context.Context, eventID uuid.UUID) (map[models.ItemStatus]int, error) {
	rows, err := q.db.Query(ctx, `SELECT status, COUNT(*) FROM items WHERE event_id = $1 GROUP BY status`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.ItemStatus]int, len(models.ItemStatuses))
	for rows.Next() {
		var s models.ItemStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

// ===== Email logs =====

func (q *queries) CreateEmailLog(ctx context.Context, l *models.EmailLog) error {
	const sql = `INSERT INTO email_logs (id, event_id, membership_id, email_type, recipient_email, subject, status, sent_at, error_message)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err := q.db.QueryRow(ctx, sql, l.EventID, l.MembershipID, l.EmailType, l.RecipientEmail, l.Subject, l.Status, l.SentAt, l.ErrorMessage).
		Scan(&l.ID, &l.CreatedAt)
	return mapErr(err)
}

func (q *queries) UpdateEmailLog(ctx context.Context, l *models.EmailLog) error {
	const sql = `UPDATE email_logs SET status = $1, sent_at = $2, error_message = $3 WHERE id = $4`
	return expectRow(q.db.Exec(ctx, sql, l.Status, l.SentAt, l.ErrorMessage, l.ID))
}

func (q *queries) ListEmailLogs(ctx context.Context, eventID uuid.UUID) ([]models.EmailLog, error) {
	const sql = `SELECT id, event_id, membership_id, email_type, recipient_email, subject, status, sent_at, error_message, created_at
		FROM email_logs WHERE event_id = $1 ORDER BY created_at DESC`
	rows, err := q.db.Query(ctx, sql, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.EmailLog
	for rows.Next() {
		var l models.EmailLog
		if err := rows.Scan(&l.ID, &l.EventID, &l.MembershipID, &l.EmailType, &l.RecipientEmail, &l.Subject, &l.Status, &l.SentAt, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

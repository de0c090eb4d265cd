package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"punch-chat/internal/models"
	"punch-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string, maxConns int) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("db.connected", "max_conns", poolCfg.MaxConns)
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case foreignKeyViolation:
		// A referenced user or room does not exist.
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	}
	return err
}

// User Repository Implementation
const userColumns = `id, email, username, password_hash, is_active, is_admin, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.IsActive, &user.IsAdmin, &user.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, email, username, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns

	return scanUser(db.pool.QueryRow(ctx, query, email, username, passwordHash))
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(db.pool.QueryRow(ctx, query, email))
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(db.pool.QueryRow(ctx, query, username))
}

func (db *PostgresDB) UpdatePassword(ctx context.Context, userID int, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return db.execOne(ctx, query, userID, passwordHash)
}

func (db *PostgresDB) SetUserActive(ctx context.Context, userID int, active bool) error {
	query := `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`
	return db.execOne(ctx, query, userID, active)
}

func (db *PostgresDB) SetUserAdmin(ctx context.Context, userID int, admin bool) error {
	query := `UPDATE users SET is_admin = $2, updated_at = NOW() WHERE id = $1`
	return db.execOne(ctx, query, userID, admin)
}

func (db *PostgresDB) SearchUsers(ctx context.Context, q string, excludeID, limit int) ([]*models.PublicUser, error) {
	query := `
		SELECT id, username FROM users
		WHERE username ILIKE '%' || $1 || '%' ESCAPE '\' AND id <> $2
		ORDER BY username
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, escapeLike(q), excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*models.PublicUser{}
	for rows.Next() {
		u := &models.PublicUser{}
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *PostgresDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *PostgresDB) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Room Repository Implementation
const roomColumns = `r.id, r.name, r.room_type, r.is_active, r.created_at`

func scanRoom(row pgx.Row) (*models.Room, error) {
	room := &models.Room{}
	var roomType string
	if err := row.Scan(&room.ID, &room.Name, &roomType, &room.IsActive, &room.CreatedAt); err != nil {
		return nil, translate(err)
	}
	room.Type = models.RoomType(roomType)
	return room, nil
}

func (db *PostgresDB) CreateRoom(ctx context.Context, name *string, memberIDs []int) (*models.Room, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room, err := scanRoom(tx.QueryRow(ctx, `
		INSERT INTO chat_rooms AS r (name, room_type) VALUES ($1, 'group')
		RETURNING `+roomColumns, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	if err := insertMemberships(ctx, tx, room.ID, memberIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

func (db *PostgresDB) GetOrCreateDirectRoom(ctx context.Context, userA, userB int, name *string) (*models.Room, bool, error) {
	lo, hi := DirectKey(userA, userB)
	key := fmt.Sprintf("%d:%d", lo, hi)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	// A concurrent creator holding the same key makes this wait, then yield no row.
	room, err := scanRoom(tx.QueryRow(ctx, `
		INSERT INTO chat_rooms AS r (name, room_type, direct_key) VALUES ($1, 'direct', $2)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING `+roomColumns, name, key))
	if errors.Is(err, ErrNotFound) {
		_ = tx.Rollback(ctx)
		existing, err := scanRoom(db.pool.QueryRow(ctx,
			`SELECT `+roomColumns+` FROM chat_rooms r WHERE r.direct_key = $1`, key))
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create direct room: %w", err)
	}

	if err := insertMemberships(ctx, tx, room.ID, []int{lo, hi}); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func insertMemberships(ctx context.Context, tx pgx.Tx, roomID int, userIDs []int) error {
	batch := &pgx.Batch{}
	for _, uid := range userIDs {
		batch.Queue(`INSERT INTO room_memberships (room_id, user_id) VALUES ($1, $2)`, roomID, uid)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to add members: %w", translate(err))
	}
	return nil
}

func (db *PostgresDB) GetRoomForMember(ctx context.Context, roomID, userID int) (*models.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM chat_rooms r
		JOIN room_memberships m ON m.room_id = r.id
		WHERE r.id = $1 AND m.user_id = $2 AND r.is_active`

	return scanRoom(db.pool.QueryRow(ctx, query, roomID, userID))
}

func (db *PostgresDB) ListRoomsForUser(ctx context.Context, userID int) ([]*models.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM chat_rooms r
		JOIN room_memberships m ON m.room_id = r.id
		WHERE m.user_id = $1 AND r.is_active
		ORDER BY r.id`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []*models.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Membership Repository Implementation
func (db *PostgresDB) AddMembership(ctx context.Context, roomID, userID int) error {
	query := `INSERT INTO room_memberships (room_id, user_id) VALUES ($1, $2)`
	_, err := db.pool.Exec(ctx, query, roomID, userID)
	return translate(err)
}

func (db *PostgresDB) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM room_memberships WHERE room_id = $1 AND user_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) GetRoomMembers(ctx context.Context, roomID int) ([]*models.Member, error) {
	query := `
		SELECT u.id, u.username, m.created_at
		FROM room_memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.room_id = $1
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []*models.Member{}
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.ID, &member.Username, &member.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// Message Repository Implementation
func (db *PostgresDB) CreateMessage(ctx context.Context, roomID, senderID int, content string) (*models.Message, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Serializes inserts per room so created_at cannot go backwards.
	var locked int
	if err := tx.QueryRow(ctx, `SELECT id FROM chat_rooms WHERE id = $1 FOR NO KEY UPDATE`, roomID).Scan(&locked); err != nil {
		return nil, translate(err)
	}

	query := `
		INSERT INTO messages (room_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, GREATEST(
			clock_timestamp(),
			COALESCE((SELECT max(created_at) FROM messages WHERE room_id = $1), '-infinity'::timestamptz)
		))
		RETURNING id, room_id, sender_id, content, created_at`

	msg := &models.Message{}
	err = tx.QueryRow(ctx, query, roomID, senderID, content).Scan(
		&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", translate(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

func (db *PostgresDB) ListMessages(ctx context.Context, roomID, limit, offset int) ([]*models.Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender_id, m.content, u.username, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.pool.Query(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.Username, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Stats Repository Implementation
func (db *PostgresDB) Stats(ctx context.Context) (*models.AdminStats, error) {
	query := `
		SELECT
			(SELECT count(*) FROM users),
			(SELECT count(*) FROM users WHERE is_active),
			(SELECT count(*) FROM users WHERE is_admin),
			(SELECT count(*) FROM chat_rooms),
			(SELECT count(*) FROM messages)`

	s := &models.AdminStats{}
	err := db.pool.QueryRow(ctx, query).Scan(
		&s.TotalUsers, &s.ActiveUsers, &s.AdminUsers, &s.TotalRooms, &s.TotalMessages,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

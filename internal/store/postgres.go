package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, avatar_url, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.AvatarURL, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, COALESCE(avatar_url, ''), is_email_verified
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, COALESCE(avatar_url, ''), is_email_verified
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UsernameOrEmailTaken reports whether either value is already registered.
func (s *PostgresStore) UsernameOrEmailTaken(ctx context.Context, username, email string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username=$1 OR email=$2)
	`, username, email).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check username/email: %w", err)
	}
	return taken, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

// VerifyUserEmail marks the matching account verified and consumes the
// token. Returns sql.ErrNoRows when the token is unknown or expired.
func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1
		  AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatarURL string) (string, error) {
	var previous sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT avatar_url FROM users WHERE id=$1`, userID).Scan(&previous)
	if err != nil {
		return "", fmt.Errorf("lookup previous avatar: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_url=$2 WHERE id=$1`, userID, avatarURL); err != nil {
		return "", fmt.Errorf("update avatar: %w", err)
	}
	return previous.String, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// InsertBarrage appends a barrage and returns its identity id. Ids are
// assigned by the database and are strictly increasing, never reused.
func (s *PostgresStore) InsertBarrage(ctx context.Context, barrage Barrage) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO barrages (user_id, content, color, bg_color, mode, speed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, barrage.UserID, barrage.Content, barrage.Color, barrage.BgColor, barrage.Mode, barrage.Speed).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert barrage: %w", err)
	}
	return id, nil
}

const barrageColumns = `
	b.id, b.content, b.color, b.bg_color, b.mode, b.speed,
	u.username, COALESCE(u.avatar_url, '')
`

// ListBarragesSince returns visible barrages with id > sinceID in
// ascending id order.
func (s *PostgresStore) ListBarragesSince(ctx context.Context, sinceID int64) ([]Barrage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+barrageColumns+`
		FROM barrages b
		JOIN users u ON u.id = b.user_id
		WHERE b.status='visible' AND b.id > $1
		ORDER BY b.id ASC
	`, sinceID)
	if err != nil {
		return nil, fmt.Errorf("list barrages since: %w", err)
	}
	return scanBarrages(rows)
}

// ListRecentBarrages returns the newest limit visible barrages,
// re-ordered ascending so first-time consumers see the same stream
// shape as incremental ones.
func (s *PostgresStore) ListRecentBarrages(ctx context.Context, limit int) ([]Barrage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.* FROM (
			SELECT `+barrageColumns+`
			FROM barrages b
			JOIN users u ON u.id = b.user_id
			WHERE b.status='visible'
			ORDER BY b.id DESC
			LIMIT $1
		) AS t
		ORDER BY t.id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent barrages: %w", err)
	}
	return scanBarrages(rows)
}

func scanBarrages(rows *sql.Rows) ([]Barrage, error) {
	defer rows.Close()

	items := make([]Barrage, 0)
	for rows.Next() {
		var item Barrage
		if err := rows.Scan(
			&item.ID,
			&item.Content,
			&item.Color,
			&item.BgColor,
			&item.Mode,
			&item.Speed,
			&item.Username,
			&item.AvatarURL,
		); err != nil {
			return nil, fmt.Errorf("scan barrage: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate barrages: %w", err)
	}
	return items, nil
}

// ReportBarrage records a report and, when the count reaches threshold,
// flips the barrage to under_review — all in one transaction. The
// status flip is conditioned on the row still being visible, so under
// concurrent reporters exactly one transaction observes
// Transitioned=true; it carries the content/author needed for the
// moderation alert.
func (s *PostgresStore) ReportBarrage(ctx context.Context, barrageID int64, reporterID string, threshold int) (ReportOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("begin report tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var outcome ReportOutcome
	err = tx.QueryRowContext(ctx, `
		SELECT b.content, u.username
		FROM barrages b
		JOIN users u ON u.id = b.user_id
		WHERE b.id=$1
	`, barrageID).Scan(&outcome.Content, &outcome.Author)
	if errors.Is(err, sql.ErrNoRows) {
		return ReportOutcome{}, sql.ErrNoRows
	}
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("lookup reported barrage: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO barrage_reports (barrage_id, reporter_user_id)
		VALUES ($1, $2)
		ON CONFLICT (barrage_id, reporter_user_id) DO NOTHING
	`, barrageID, reporterID)
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("insert report: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("insert report rows: %w", err)
	}
	if inserted == 0 {
		// Duplicate (barrage, reporter) pair: success, no side effect.
		outcome.Duplicate = true
		return outcome, nil
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM barrage_reports WHERE barrage_id=$1
	`, barrageID).Scan(&outcome.Count); err != nil {
		return ReportOutcome{}, fmt.Errorf("count reports: %w", err)
	}

	if outcome.Count >= threshold {
		result, err := tx.ExecContext(ctx, `
			UPDATE barrages SET status='under_review' WHERE id=$1 AND status='visible'
		`, barrageID)
		if err != nil {
			return ReportOutcome{}, fmt.Errorf("transition barrage status: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return ReportOutcome{}, fmt.Errorf("transition barrage rows: %w", err)
		}
		outcome.Transitioned = affected > 0
	}

	if err := tx.Commit(); err != nil {
		return ReportOutcome{}, fmt.Errorf("commit report tx: %w", err)
	}
	return outcome, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, COALESCE(u.avatar_url, '')
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Username, &user.Email, &user.AvatarURL)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

// repos opera sobre q. db es nil cuando q ya es una tx.
type repos struct {
	q  querier
	db *sql.DB
}

func (r repos) Applications() repository.ApplicationRepository { return appRepo{r} }
func (r repos) Users() repository.UserRepository               { return userRepo{r} }
func (r repos) Emails() repository.EmailRepository             { return emailRepo{r} }
func (r repos) BasicAuths() repository.BasicAuthRepository     { return basicAuthRepo{r} }
func (r repos) Tokens() repository.UserTokenRepository         { return tokenRepo{r} }
func (r repos) TOTP() repository.TOTPRepository                { return totpRepo{r} }
func (r repos) Metadata() repository.MetadataRepository        { return metadataRepo{r} }

// atomic corre fn en una tx propia, o en la tx actual si ya hay una.
func (r repos) atomic(ctx context.Context, fn func(q querier) error) error {
	if r.db == nil {
		return fn(r.q)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r repos) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r repos) execChanged(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ─── helpers de tiempo ───

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

type scanner interface{ Scan(dest ...any) error }

// ─── ApplicationRepository ───

type appRepo struct{ repos }

const appSelect = `
	SELECT a.id, a.domain_name, a.created_at, a.updated_at,
	       b.min_password_length, b.max_password_length, b.check_strength, b.min_strength_score,
	       b.strict_mode, b.min_uppercase, b.min_lowercase, b.min_digits, b.min_symbols,
	       v.redirect_url, v.token_ttl_seconds, v.mode
	FROM application a
	JOIN application_basic_auth_config b ON b.application_id = a.id
	JOIN application_verification_config v ON v.application_id = a.id
`

func scanApp(row scanner) (*repository.Application, error) {
	var a repository.Application
	var created, updated int64
	var mode string
	err := row.Scan(
		&a.ID, &a.DomainName, &created, &updated,
		&a.BasicAuth.MinPasswordLength, &a.BasicAuth.MaxPasswordLength, &a.BasicAuth.CheckStrength, &a.BasicAuth.MinStrengthScore,
		&a.BasicAuth.StrictMode, &a.BasicAuth.MinUppercase, &a.BasicAuth.MinLowercase, &a.BasicAuth.MinDigits, &a.BasicAuth.MinSymbols,
		&a.Verification.RedirectURL, &a.Verification.TokenTTLSeconds, &mode,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	a.Verification.Mode = repository.VerificationMode(mode)
	return &a, nil
}

func (r appRepo) Upsert(ctx context.Context, app *repository.Application) error {
	if err := app.Validate(); err != nil {
		return err
	}
	return r.atomic(ctx, func(q querier) error {
		now := time.Now().UTC()
		var created int64
		err := q.QueryRowContext(ctx, `SELECT created_at FROM application WHERE id = ?`, app.ID).Scan(&created)
		switch {
		case err == sql.ErrNoRows:
			app.CreatedAt = nowIfZero(app.CreatedAt)
		case err != nil:
			return fmt.Errorf("sqlite: read application: %w", err)
		default:
			app.CreatedAt = fromNanos(created)
		}
		app.UpdatedAt = now

		if _, err := q.ExecContext(ctx, `
			INSERT INTO application (id, domain_name, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET domain_name = excluded.domain_name, updated_at = excluded.updated_at
		`, app.ID, app.DomainName, nanos(app.CreatedAt), nanos(app.UpdatedAt)); err != nil {
			return fmt.Errorf("sqlite: upsert application: %w", mapErr(err))
		}

		b := app.BasicAuth
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO application_basic_auth_config
				(application_id, min_password_length, max_password_length, check_strength, min_strength_score,
				 strict_mode, min_uppercase, min_lowercase, min_digits, min_symbols)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, app.ID, b.MinPasswordLength, b.MaxPasswordLength, b.CheckStrength, b.MinStrengthScore,
			b.StrictMode, b.MinUppercase, b.MinLowercase, b.MinDigits, b.MinSymbols); err != nil {
			return fmt.Errorf("sqlite: upsert basic auth config: %w", mapErr(err))
		}

		v := app.Verification
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO application_verification_config (application_id, redirect_url, token_ttl_seconds, mode)
			VALUES (?, ?, ?, ?)
		`, app.ID, v.RedirectURL, v.TokenTTLSeconds, string(v.Mode)); err != nil {
			return fmt.Errorf("sqlite: upsert verification config: %w", mapErr(err))
		}
		return nil
	})
}

func (r appRepo) Get(ctx context.Context, id string) (*repository.Application, error) {
	return scanApp(r.q.QueryRowContext(ctx, appSelect+` WHERE a.id = ?`, id))
}

func (r appRepo) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM application WHERE id = ?`, id)
}

func (r appRepo) List(ctx context.Context) ([]repository.Application, error) {
	rows, err := r.q.QueryContext(ctx, appSelect+` ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list applications: %w", err)
	}
	defer rows.Close()

	var out []repository.Application
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ─── UserRepository ───

type userRepo struct{ repos }

func (r userRepo) Create(ctx context.Context, u *repository.User) error {
	u.ID = newID(u.ID)
	u.CreatedAt = nowIfZero(u.CreatedAt)
	u.UpdatedAt = u.CreatedAt
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO app_user (id, application_id, name, password_enabled, totp_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.ApplicationID, u.Name, u.PasswordEnabled, u.TOTPEnabled, nanos(u.CreatedAt), nanos(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create user: %w", mapErr(err))
	}
	return nil
}

func (r userRepo) GetByID(ctx context.Context, applicationID, userID string) (*repository.User, error) {
	var u repository.User
	var lastAt sql.NullInt64
	var lastIP sql.NullString
	var created, updated int64
	err := r.q.QueryRowContext(ctx, `
		SELECT id, application_id, name, password_enabled, totp_enabled, last_login_at, last_login_ip, created_at, updated_at
		FROM app_user WHERE id = ? AND application_id = ?
	`, userID, applicationID).Scan(&u.ID, &u.ApplicationID, &u.Name, &u.PasswordEnabled, &u.TOTPEnabled,
		&lastAt, &lastIP, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	u.LastLoginAt = nullTime(lastAt)
	u.LastLoginIP = nullString(lastIP)
	u.CreatedAt = fromNanos(created)
	u.UpdatedAt = fromNanos(updated)
	return &u, nil
}

func (r userRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	return r.execOne(ctx, `UPDATE app_user SET last_login_at = ?, last_login_ip = ?, updated_at = ? WHERE id = ?`,
		nanos(at), ip, nanos(at), userID)
}

func (r userRepo) SetTOTPEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	return r.execOne(ctx, `UPDATE app_user SET totp_enabled = ?, updated_at = ? WHERE id = ?`, enabled, nanos(at), userID)
}

// ─── EmailRepository ───

type emailRepo struct{ repos }

const emailSelect = `
	SELECT id, user_id, application_id, address, verified, verified_at, verified_ip, created_at FROM email_address
`

func scanEmail(row scanner) (*repository.EmailAddress, error) {
	var e repository.EmailAddress
	var vAt sql.NullInt64
	var vIP sql.NullString
	var created int64
	if err := row.Scan(&e.ID, &e.UserID, &e.ApplicationID, &e.Address, &e.Verified, &vAt, &vIP, &created); err != nil {
		return nil, mapErr(err)
	}
	e.VerifiedAt = nullTime(vAt)
	e.VerifiedIP = nullString(vIP)
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

func (r emailRepo) Create(ctx context.Context, e *repository.EmailAddress) error {
	e.ID = newID(e.ID)
	e.CreatedAt = nowIfZero(e.CreatedAt)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO email_address (id, user_id, application_id, address, verified, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.ApplicationID, e.Address, e.Verified, nanos(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create email: %w", mapErr(err))
	}
	return nil
}

func (r emailRepo) GetByID(ctx context.Context, id string) (*repository.EmailAddress, error) {
	return scanEmail(r.q.QueryRowContext(ctx, emailSelect+` WHERE id = ?`, id))
}

func (r emailRepo) GetByAddress(ctx context.Context, applicationID, address string) (*repository.EmailAddress, error) {
	return scanEmail(r.q.QueryRowContext(ctx, emailSelect+` WHERE application_id = ? AND address = ?`, applicationID, address))
}

func (r emailRepo) GetByUser(ctx context.Context, userID string) (*repository.EmailAddress, error) {
	return scanEmail(r.q.QueryRowContext(ctx, emailSelect+` WHERE user_id = ? ORDER BY created_at LIMIT 1`, userID))
}

func (r emailRepo) MarkVerified(ctx context.Context, id string, at time.Time, ip string) error {
	return r.execOne(ctx, `UPDATE email_address SET verified = 1, verified_at = ?, verified_ip = ? WHERE id = ?`,
		nanos(at), ip, id)
}

// ─── BasicAuthRepository ───

type basicAuthRepo struct{ repos }

func (r basicAuthRepo) Create(ctx context.Context, b *repository.BasicAuth) error {
	b.ID = newID(b.ID)
	b.CreatedAt = nowIfZero(b.CreatedAt)
	b.UpdatedAt = b.CreatedAt
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO basic_auth (id, user_id, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.UserID, b.PasswordHash, nanos(b.CreatedAt), nanos(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create basic auth: %w", mapErr(err))
	}
	return nil
}

func (r basicAuthRepo) GetByUser(ctx context.Context, userID string) (*repository.BasicAuth, error) {
	var b repository.BasicAuth
	var created, updated int64
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, password_hash, created_at, updated_at FROM basic_auth WHERE user_id = ?
	`, userID).Scan(&b.ID, &b.UserID, &b.PasswordHash, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	b.CreatedAt = fromNanos(created)
	b.UpdatedAt = fromNanos(updated)
	return &b, nil
}

func (r basicAuthRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return r.execOne(ctx, `UPDATE basic_auth SET password_hash = ?, updated_at = ? WHERE user_id = ?`, hash, nanos(at), userID)
}

// ─── UserTokenRepository ───

type tokenRepo struct{ repos }

const tokenSelect = `
	SELECT id, application_id, user_id, kind, token_hash, subject, code_hash, ip_address, user_agent,
	       created_at, expires_at, consumed_at, revoked_at
	FROM user_token
`

func scanToken(row scanner) (*repository.UserToken, error) {
	var t repository.UserToken
	var kind string
	var created, expires int64
	var consumed, revoked sql.NullInt64
	err := row.Scan(&t.ID, &t.ApplicationID, &t.UserID, &kind, &t.TokenHash, &t.Subject, &t.CodeHash,
		&t.IPAddress, &t.UserAgent, &created, &expires, &consumed, &revoked)
	if err != nil {
		return nil, mapErr(err)
	}
	t.Kind = repository.TokenKind(kind)
	t.CreatedAt = fromNanos(created)
	t.ExpiresAt = fromNanos(expires)
	t.ConsumedAt = nullTime(consumed)
	t.RevokedAt = nullTime(revoked)
	return &t, nil
}

func (r tokenRepo) Create(ctx context.Context, t *repository.UserToken) error {
	t.ID = newID(t.ID)
	t.CreatedAt = nowIfZero(t.CreatedAt)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO user_token (id, application_id, user_id, kind, token_hash, subject, code_hash,
		                        ip_address, user_agent, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ApplicationID, t.UserID, string(t.Kind), t.TokenHash, t.Subject, t.CodeHash,
		t.IPAddress, t.UserAgent, nanos(t.CreatedAt), nanos(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("sqlite: create token: %w", mapErr(err))
	}
	return nil
}

func (r tokenRepo) GetByHash(ctx context.Context, tokenHash string) (*repository.UserToken, error) {
	return scanToken(r.q.QueryRowContext(ctx, tokenSelect+` WHERE token_hash = ?`, tokenHash))
}

func (r tokenRepo) MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.execChanged(ctx, `UPDATE user_token SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`, nanos(at), id)
}

func (r tokenRepo) RevokeAllByUser(ctx context.Context, userID string, kinds []repository.TokenKind, at time.Time) (int, error) {
	query := `UPDATE user_token SET consumed_at = ?, revoked_at = ? WHERE user_id = ? AND consumed_at IS NULL`
	args := []any{nanos(at), nanos(at), userID}
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(`, ?`, len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: revoke tokens: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r tokenRepo) ListByUser(ctx context.Context, userID string) ([]repository.UserToken, error) {
	rows, err := r.q.QueryContext(ctx, tokenSelect+` WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tokens: %w", err)
	}
	defer rows.Close()

	var out []repository.UserToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ─── TOTPRepository ───

type totpRepo struct{ repos }

func (r totpRepo) Create(ctx context.Context, t *repository.TOTP, codes []repository.TOTPBackupCode) error {
	t.ID = newID(t.ID)
	t.CreatedAt = nowIfZero(t.CreatedAt)
	if t.Interval <= 0 {
		t.Interval = repository.DefaultTOTPInterval
	}
	return r.atomic(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO totp (id, user_id, secret, interval_seconds, last_used_step, created_at) VALUES (?, ?, ?, ?, ?, ?)
		`, t.ID, t.UserID, t.Secret, t.Interval, t.LastUsedStep, nanos(t.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: create totp: %w", mapErr(err))
		}
		t.BackupCodes = make([]repository.TOTPBackupCode, 0, len(codes))
		for _, c := range codes {
			c.ID = newID(c.ID)
			c.TOTPID = t.ID
			c.CreatedAt = nowIfZero(c.CreatedAt)
			if _, err := q.ExecContext(ctx, `
				INSERT INTO totp_backup_code (id, totp_id, code_hash, used, created_at) VALUES (?, ?, ?, 0, ?)
			`, c.ID, c.TOTPID, c.CodeHash, nanos(c.CreatedAt)); err != nil {
				return fmt.Errorf("sqlite: create backup code: %w", mapErr(err))
			}
			t.BackupCodes = append(t.BackupCodes, c)
		}
		return nil
	})
}

func (r totpRepo) GetByUser(ctx context.Context, userID string) (*repository.TOTP, error) {
	var t repository.TOTP
	var created int64
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, secret, interval_seconds, last_used_step, created_at FROM totp WHERE user_id = ?
	`, userID).Scan(&t.ID, &t.UserID, &t.Secret, &t.Interval, &t.LastUsedStep, &created)
	if err != nil {
		return nil, mapErr(err)
	}
	t.CreatedAt = fromNanos(created)

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, totp_id, code_hash, used, used_at, created_at FROM totp_backup_code
		WHERE totp_id = ? ORDER BY created_at, id
	`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list backup codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c repository.TOTPBackupCode
		var usedAt sql.NullInt64
		var cAt int64
		if err := rows.Scan(&c.ID, &c.TOTPID, &c.CodeHash, &c.Used, &usedAt, &cAt); err != nil {
			return nil, err
		}
		c.UsedAt = nullTime(usedAt)
		c.CreatedAt = fromNanos(cAt)
		t.BackupCodes = append(t.BackupCodes, c)
	}
	return &t, rows.Err()
}

func (r totpRepo) AdvanceStep(ctx context.Context, totpID string, step int64) (bool, error) {
	return r.execChanged(ctx, `UPDATE totp SET last_used_step = ? WHERE id = ? AND last_used_step < ?`, step, totpID, step)
}

func (r totpRepo) UseBackupCode(ctx context.Context, totpID, codeHash string, at time.Time) (bool, error) {
	return r.execChanged(ctx, `
		UPDATE totp_backup_code SET used = 1, used_at = ? WHERE totp_id = ? AND code_hash = ? AND used = 0
	`, nanos(at), totpID, codeHash)
}

func (r totpRepo) DeleteByUser(ctx context.Context, userID string) error {
	return r.execOne(ctx, `DELETE FROM totp WHERE user_id = ?`, userID)
}

// ─── MetadataRepository ───

type metadataRepo struct{ repos }

func (r metadataRepo) Set(ctx context.Context, userID, key, value string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO user_metadata (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	return mapErr(err)
}

func (r metadataRepo) Get(ctx context.Context, userID, key string) (string, error) {
	var v string
	err := r.q.QueryRowContext(ctx, `SELECT value FROM user_metadata WHERE user_id = ? AND key = ?`, userID, key).Scan(&v)
	return v, mapErr(err)
}

func (r metadataRepo) List(ctx context.Context, userID string) ([]repository.UserMetadata, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT user_id, key, value FROM user_metadata WHERE user_id = ? ORDER BY key`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list metadata: %w", err)
	}
	defer rows.Close()

	var out []repository.UserMetadata
	for rows.Next() {
		var m repository.UserMetadata
		if err := rows.Scan(&m.UserID, &m.Key, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r metadataRepo) Delete(ctx context.Context, userID, key string) error {
	return r.execOne(ctx, `DELETE FROM user_metadata WHERE user_id = ? AND key = ?`, userID, key)
}

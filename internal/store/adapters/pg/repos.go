package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

// repos agrupa los repositorios sobre un querier (pool o tx).
type repos struct{ q querier }

func (r repos) Applications() repository.ApplicationRepository { return &appRepo{q: r.q} }
func (r repos) Users() repository.UserRepository               { return &userRepo{q: r.q} }
func (r repos) Emails() repository.EmailRepository             { return &emailRepo{q: r.q} }
func (r repos) BasicAuths() repository.BasicAuthRepository     { return &basicAuthRepo{q: r.q} }
func (r repos) Tokens() repository.UserTokenRepository         { return &tokenRepo{q: r.q} }
func (r repos) TOTP() repository.TOTPRepository                { return &totpRepo{q: r.q} }
func (r repos) Metadata() repository.MetadataRepository        { return &metadataRepo{q: r.q} }

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

// ─── ApplicationRepository ───

type appRepo struct{ q querier }

const appSelect = `
	SELECT a.id, a.domain_name, a.created_at, a.updated_at,
	       b.min_password_length, b.max_password_length, b.check_strength, b.min_strength_score,
	       b.strict_mode, b.min_uppercase, b.min_lowercase, b.min_digits, b.min_symbols,
	       v.redirect_url, v.token_ttl_seconds, v.mode
	FROM application a
	JOIN application_basic_auth_config b ON b.application_id = a.id
	JOIN application_verification_config v ON v.application_id = a.id
`

func scanApp(row pgx.Row) (*repository.Application, error) {
	var a repository.Application
	var mode string
	err := row.Scan(
		&a.ID, &a.DomainName, &a.CreatedAt, &a.UpdatedAt,
		&a.BasicAuth.MinPasswordLength, &a.BasicAuth.MaxPasswordLength, &a.BasicAuth.CheckStrength, &a.BasicAuth.MinStrengthScore,
		&a.BasicAuth.StrictMode, &a.BasicAuth.MinUppercase, &a.BasicAuth.MinLowercase, &a.BasicAuth.MinDigits, &a.BasicAuth.MinSymbols,
		&a.Verification.RedirectURL, &a.Verification.TokenTTLSeconds, &mode,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	a.Verification.Mode = repository.VerificationMode(mode)
	return &a, nil
}

func (r *appRepo) Upsert(ctx context.Context, app *repository.Application) error {
	if err := app.Validate(); err != nil {
		return err
	}
	// Las tres filas van juntas: o se aplica todo o nada.
	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO application (id, domain_name, created_at, updated_at)
			VALUES ($1, $2, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET domain_name = EXCLUDED.domain_name, updated_at = NOW()
			RETURNING created_at, updated_at
		`, app.ID, app.DomainName).Scan(&app.CreatedAt, &app.UpdatedAt)
		if err != nil {
			return fmt.Errorf("pg: upsert application: %w", mapErr(err))
		}

		b := app.BasicAuth
		_, err = tx.Exec(ctx, `
			INSERT INTO application_basic_auth_config
				(application_id, min_password_length, max_password_length, check_strength, min_strength_score,
				 strict_mode, min_uppercase, min_lowercase, min_digits, min_symbols)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (application_id) DO UPDATE SET
				min_password_length = EXCLUDED.min_password_length,
				max_password_length = EXCLUDED.max_password_length,
				check_strength = EXCLUDED.check_strength,
				min_strength_score = EXCLUDED.min_strength_score,
				strict_mode = EXCLUDED.strict_mode,
				min_uppercase = EXCLUDED.min_uppercase,
				min_lowercase = EXCLUDED.min_lowercase,
				min_digits = EXCLUDED.min_digits,
				min_symbols = EXCLUDED.min_symbols
		`, app.ID, b.MinPasswordLength, b.MaxPasswordLength, b.CheckStrength, b.MinStrengthScore,
			b.StrictMode, b.MinUppercase, b.MinLowercase, b.MinDigits, b.MinSymbols)
		if err != nil {
			return fmt.Errorf("pg: upsert basic auth config: %w", mapErr(err))
		}

		v := app.Verification
		_, err = tx.Exec(ctx, `
			INSERT INTO application_verification_config (application_id, redirect_url, token_ttl_seconds, mode)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (application_id) DO UPDATE SET
				redirect_url = EXCLUDED.redirect_url,
				token_ttl_seconds = EXCLUDED.token_ttl_seconds,
				mode = EXCLUDED.mode
		`, app.ID, v.RedirectURL, v.TokenTTLSeconds, string(v.Mode))
		if err != nil {
			return fmt.Errorf("pg: upsert verification config: %w", mapErr(err))
		}
		return nil
	})
}

func (r *appRepo) Get(ctx context.Context, id string) (*repository.Application, error) {
	return scanApp(r.q.QueryRow(ctx, appSelect+` WHERE a.id = $1`, id))
}

func (r *appRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM application WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pg: delete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *appRepo) List(ctx context.Context) ([]repository.Application, error) {
	rows, err := r.q.Query(ctx, appSelect+` ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("pg: list applications: %w", err)
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

type userRepo struct{ q querier }

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	u.ID = newID(u.ID)
	u.CreatedAt = nowIfZero(u.CreatedAt)
	u.UpdatedAt = u.CreatedAt
	_, err := r.q.Exec(ctx, `
		INSERT INTO app_user (id, application_id, name, password_enabled, totp_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.ApplicationID, u.Name, u.PasswordEnabled, u.TOTPEnabled, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: create user: %w", mapErr(err))
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, applicationID, userID string) (*repository.User, error) {
	var u repository.User
	err := r.q.QueryRow(ctx, `
		SELECT id, application_id, name, password_enabled, totp_enabled,
		       last_login_at, last_login_ip, created_at, updated_at
		FROM app_user WHERE id = $1 AND application_id = $2
	`, userID, applicationID).Scan(
		&u.ID, &u.ApplicationID, &u.Name, &u.PasswordEnabled, &u.TOTPEnabled,
		&u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	return execOne(ctx, r.q, `UPDATE app_user SET last_login_at = $2, last_login_ip = $3, updated_at = $2 WHERE id = $1`,
		userID, at, ip)
}

func (r *userRepo) SetTOTPEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	return execOne(ctx, r.q, `UPDATE app_user SET totp_enabled = $2, updated_at = $3 WHERE id = $1`,
		userID, enabled, at)
}

// execOne ejecuta un UPDATE/DELETE que debe tocar al menos una fila.
func execOne(ctx context.Context, q querier, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── EmailRepository ───

type emailRepo struct{ q querier }

const emailSelect = `
	SELECT id, user_id, application_id, address, verified, verified_at, verified_ip, created_at
	FROM email_address
`

func scanEmail(row pgx.Row) (*repository.EmailAddress, error) {
	var e repository.EmailAddress
	err := row.Scan(&e.ID, &e.UserID, &e.ApplicationID, &e.Address, &e.Verified, &e.VerifiedAt, &e.VerifiedIP, &e.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (r *emailRepo) Create(ctx context.Context, e *repository.EmailAddress) error {
	e.ID = newID(e.ID)
	e.CreatedAt = nowIfZero(e.CreatedAt)
	_, err := r.q.Exec(ctx, `
		INSERT INTO email_address (id, user_id, application_id, address, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, e.ApplicationID, e.Address, e.Verified, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create email: %w", mapErr(err))
	}
	return nil
}

func (r *emailRepo) GetByID(ctx context.Context, id string) (*repository.EmailAddress, error) {
	return scanEmail(r.q.QueryRow(ctx, emailSelect+` WHERE id = $1`, id))
}

func (r *emailRepo) GetByAddress(ctx context.Context, applicationID, address string) (*repository.EmailAddress, error) {
	return scanEmail(r.q.QueryRow(ctx, emailSelect+` WHERE application_id = $1 AND address = $2`, applicationID, address))
}

func (r *emailRepo) GetByUser(ctx context.Context, userID string) (*repository.EmailAddress, error) {
	return scanEmail(r.q.QueryRow(ctx, emailSelect+` WHERE user_id = $1 ORDER BY created_at LIMIT 1`, userID))
}

func (r *emailRepo) MarkVerified(ctx context.Context, id string, at time.Time, ip string) error {
	return execOne(ctx, r.q, `UPDATE email_address SET verified = TRUE, verified_at = $2, verified_ip = $3 WHERE id = $1`,
		id, at, ip)
}

// ─── BasicAuthRepository ───

type basicAuthRepo struct{ q querier }

func (r *basicAuthRepo) Create(ctx context.Context, b *repository.BasicAuth) error {
	b.ID = newID(b.ID)
	b.CreatedAt = nowIfZero(b.CreatedAt)
	b.UpdatedAt = b.CreatedAt
	_, err := r.q.Exec(ctx, `
		INSERT INTO basic_auth (id, user_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.UserID, b.PasswordHash, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: create basic auth: %w", mapErr(err))
	}
	return nil
}

func (r *basicAuthRepo) GetByUser(ctx context.Context, userID string) (*repository.BasicAuth, error) {
	var b repository.BasicAuth
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, password_hash, created_at, updated_at FROM basic_auth WHERE user_id = $1
	`, userID).Scan(&b.ID, &b.UserID, &b.PasswordHash, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &b, nil
}

func (r *basicAuthRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return execOne(ctx, r.q, `UPDATE basic_auth SET password_hash = $2, updated_at = $3 WHERE user_id = $1`,
		userID, hash, at)
}

// ─── UserTokenRepository ───

type tokenRepo struct{ q querier }

const tokenSelect = `
	SELECT id, application_id, user_id, kind, token_hash, subject, code_hash, ip_address, user_agent,
	       created_at, expires_at, consumed_at, revoked_at
	FROM user_token
`

func scanToken(row pgx.Row) (*repository.UserToken, error) {
	var t repository.UserToken
	var kind string
	err := row.Scan(&t.ID, &t.ApplicationID, &t.UserID, &kind, &t.TokenHash, &t.Subject, &t.CodeHash,
		&t.IPAddress, &t.UserAgent, &t.CreatedAt, &t.ExpiresAt, &t.ConsumedAt, &t.RevokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	t.Kind = repository.TokenKind(kind)
	return &t, nil
}

func (r *tokenRepo) Create(ctx context.Context, t *repository.UserToken) error {
	t.ID = newID(t.ID)
	t.CreatedAt = nowIfZero(t.CreatedAt)
	_, err := r.q.Exec(ctx, `
		INSERT INTO user_token (id, application_id, user_id, kind, token_hash, subject, code_hash,
		                        ip_address, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.ApplicationID, t.UserID, string(t.Kind), t.TokenHash, t.Subject, t.CodeHash,
		t.IPAddress, t.UserAgent, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("pg: create token: %w", mapErr(err))
	}
	return nil
}

func (r *tokenRepo) GetByHash(ctx context.Context, tokenHash string) (*repository.UserToken, error) {
	return scanToken(r.q.QueryRow(ctx, tokenSelect+` WHERE token_hash = $1`, tokenHash))
}

func (r *tokenRepo) MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `UPDATE user_token SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("pg: consume token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *tokenRepo) RevokeAllByUser(ctx context.Context, userID string, kinds []repository.TokenKind, at time.Time) (int, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE user_token SET consumed_at = $2, revoked_at = $2
		WHERE user_id = $1 AND consumed_at IS NULL
		  AND (cardinality($3::text[]) = 0 OR kind = ANY($3::text[]))
	`, userID, at, names)
	if err != nil {
		return 0, fmt.Errorf("pg: revoke tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *tokenRepo) ListByUser(ctx context.Context, userID string) ([]repository.UserToken, error) {
	rows, err := r.q.Query(ctx, tokenSelect+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("pg: list tokens: %w", err)
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

type totpRepo struct{ q querier }

func (r *totpRepo) Create(ctx context.Context, t *repository.TOTP, codes []repository.TOTPBackupCode) error {
	t.ID = newID(t.ID)
	t.CreatedAt = nowIfZero(t.CreatedAt)
	if t.Interval <= 0 {
		t.Interval = repository.DefaultTOTPInterval
	}
	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO totp (id, user_id, secret, interval_seconds, last_used_step, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, t.ID, t.UserID, t.Secret, t.Interval, t.LastUsedStep, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("pg: create totp: %w", mapErr(err))
		}

		t.BackupCodes = make([]repository.TOTPBackupCode, 0, len(codes))
		for _, c := range codes {
			c.ID = newID(c.ID)
			c.TOTPID = t.ID
			c.CreatedAt = nowIfZero(c.CreatedAt)
			_, err := tx.Exec(ctx, `
				INSERT INTO totp_backup_code (id, totp_id, code_hash, used, created_at)
				VALUES ($1, $2, $3, FALSE, $4)
			`, c.ID, c.TOTPID, c.CodeHash, c.CreatedAt)
			if err != nil {
				return fmt.Errorf("pg: create backup code: %w", mapErr(err))
			}
			t.BackupCodes = append(t.BackupCodes, c)
		}
		return nil
	})
}

func (r *totpRepo) GetByUser(ctx context.Context, userID string) (*repository.TOTP, error) {
	var t repository.TOTP
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, secret, interval_seconds, last_used_step, created_at FROM totp WHERE user_id = $1
	`, userID).Scan(&t.ID, &t.UserID, &t.Secret, &t.Interval, &t.LastUsedStep, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, totp_id, code_hash, used, used_at, created_at
		FROM totp_backup_code WHERE totp_id = $1 ORDER BY created_at, id
	`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("pg: list backup codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c repository.TOTPBackupCode
		if err := rows.Scan(&c.ID, &c.TOTPID, &c.CodeHash, &c.Used, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		t.BackupCodes = append(t.BackupCodes, c)
	}
	return &t, rows.Err()
}

func (r *totpRepo) AdvanceStep(ctx context.Context, totpID string, step int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `UPDATE totp SET last_used_step = $2 WHERE id = $1 AND last_used_step < $2`, totpID, step)
	if err != nil {
		return false, fmt.Errorf("pg: advance totp step: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *totpRepo) UseBackupCode(ctx context.Context, totpID, codeHash string, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE totp_backup_code SET used = TRUE, used_at = $3
		WHERE totp_id = $1 AND code_hash = $2 AND used = FALSE
	`, totpID, codeHash, at)
	if err != nil {
		return false, fmt.Errorf("pg: use backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *totpRepo) DeleteByUser(ctx context.Context, userID string) error {
	return execOne(ctx, r.q, `DELETE FROM totp WHERE user_id = $1`, userID)
}

// ─── MetadataRepository ───

type metadataRepo struct{ q querier }

func (r *metadataRepo) Set(ctx context.Context, userID, key, value string) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO user_metadata (user_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value
	`, userID, key, value)
	return mapErr(err)
}

func (r *metadataRepo) Get(ctx context.Context, userID, key string) (string, error) {
	var v string
	err := r.q.QueryRow(ctx, `SELECT value FROM user_metadata WHERE user_id = $1 AND key = $2`, userID, key).Scan(&v)
	return v, mapErr(err)
}

func (r *metadataRepo) List(ctx context.Context, userID string) ([]repository.UserMetadata, error) {
	rows, err := r.q.Query(ctx, `SELECT user_id, key, value FROM user_metadata WHERE user_id = $1 ORDER BY key`, userID)
	if err != nil {
		return nil, fmt.Errorf("pg: list metadata: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.UserMetadata, error) {
		var m repository.UserMetadata
		err := row.Scan(&m.UserID, &m.Key, &m.Value)
		return m, err
	})
}

func (r *metadataRepo) Delete(ctx context.Context, userID, key string) error {
	return execOne(ctx, r.q, `DELETE FROM user_metadata WHERE user_id = $1 AND key = $2`, userID, key)
}

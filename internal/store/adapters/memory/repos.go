package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

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

type appRepo struct{ r repos }

func (a appRepo) Upsert(_ context.Context, app *repository.Application) error {
	if err := app.Validate(); err != nil {
		return err
	}
	return a.r.do(func(st *state) error {
		now := time.Now().UTC()
		if prev, ok := st.apps[app.ID]; ok {
			app.CreatedAt = prev.CreatedAt
		} else {
			app.CreatedAt = nowIfZero(app.CreatedAt)
		}
		app.UpdatedAt = now
		st.apps[app.ID] = *app
		return nil
	})
}

func (a appRepo) Get(_ context.Context, id string) (*repository.Application, error) {
	var out repository.Application
	err := a.r.do(func(st *state) error {
		app, ok := st.apps[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a appRepo) Delete(_ context.Context, id string) error {
	return a.r.do(func(st *state) error {
		if _, ok := st.apps[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.apps, id)
		for uid, u := range st.users {
			if u.ApplicationID == id {
				st.deleteUser(uid)
			}
		}
		return nil
	})
}

func (a appRepo) List(_ context.Context) ([]repository.Application, error) {
	var out []repository.Application
	err := a.r.do(func(st *state) error {
		for _, app := range st.apps {
			out = append(out, app)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// ─── UserRepository ───

type userRepo struct{ r repos }

func (u userRepo) Create(_ context.Context, user *repository.User) error {
	return u.r.do(func(st *state) error {
		if _, ok := st.apps[user.ApplicationID]; !ok {
			return fmt.Errorf("application %s: %w", user.ApplicationID, repository.ErrNotFound)
		}
		user.ID = newID(user.ID)
		if _, ok := st.users[user.ID]; ok {
			return repository.ErrConflict
		}
		user.CreatedAt = nowIfZero(user.CreatedAt)
		user.UpdatedAt = user.CreatedAt
		st.users[user.ID] = *user
		return nil
	})
}

func (u userRepo) GetByID(_ context.Context, applicationID, userID string) (*repository.User, error) {
	var out repository.User
	err := u.r.do(func(st *state) error {
		user, ok := st.users[userID]
		if !ok || user.ApplicationID != applicationID {
			return repository.ErrNotFound
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (u userRepo) UpdateLastLogin(_ context.Context, userID string, at time.Time, ip string) error {
	return u.r.do(func(st *state) error {
		user, ok := st.users[userID]
		if !ok {
			return repository.ErrNotFound
		}
		user.LastLoginAt = &at
		user.LastLoginIP = &ip
		user.UpdatedAt = at
		st.users[userID] = user
		return nil
	})
}

func (u userRepo) SetTOTPEnabled(_ context.Context, userID string, enabled bool, at time.Time) error {
	return u.r.do(func(st *state) error {
		user, ok := st.users[userID]
		if !ok {
			return repository.ErrNotFound
		}
		user.TOTPEnabled = enabled
		user.UpdatedAt = at
		st.users[userID] = user
		return nil
	})
}

// ─── EmailRepository ───

type emailRepo struct{ r repos }

func (e emailRepo) Create(_ context.Context, email *repository.EmailAddress) error {
	return e.r.do(func(st *state) error {
		user, ok := st.users[email.UserID]
		if !ok || user.ApplicationID != email.ApplicationID {
			return fmt.Errorf("user %s: %w", email.UserID, repository.ErrNotFound)
		}
		for _, other := range st.emails {
			if other.ApplicationID == email.ApplicationID && other.Address == email.Address {
				return repository.ErrConflict
			}
		}
		email.ID = newID(email.ID)
		email.CreatedAt = nowIfZero(email.CreatedAt)
		st.emails[email.ID] = *email
		return nil
	})
}

func (e emailRepo) GetByID(_ context.Context, id string) (*repository.EmailAddress, error) {
	return e.find(func(x repository.EmailAddress) bool { return x.ID == id })
}

func (e emailRepo) GetByAddress(_ context.Context, applicationID, address string) (*repository.EmailAddress, error) {
	return e.find(func(x repository.EmailAddress) bool {
		return x.ApplicationID == applicationID && x.Address == address
	})
}

func (e emailRepo) GetByUser(_ context.Context, userID string) (*repository.EmailAddress, error) {
	return e.find(func(x repository.EmailAddress) bool { return x.UserID == userID })
}

func (e emailRepo) find(match func(repository.EmailAddress) bool) (*repository.EmailAddress, error) {
	var out *repository.EmailAddress
	err := e.r.do(func(st *state) error {
		for _, x := range st.emails {
			if match(x) {
				x := x
				out = &x
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (e emailRepo) MarkVerified(_ context.Context, id string, at time.Time, ip string) error {
	return e.r.do(func(st *state) error {
		x, ok := st.emails[id]
		if !ok {
			return repository.ErrNotFound
		}
		x.Verified = true
		x.VerifiedAt = &at
		x.VerifiedIP = &ip
		st.emails[id] = x
		return nil
	})
}

// ─── BasicAuthRepository ───

type basicAuthRepo struct{ r repos }

func (b basicAuthRepo) Create(_ context.Context, ba *repository.BasicAuth) error {
	return b.r.do(func(st *state) error {
		if _, ok := st.users[ba.UserID]; !ok {
			return fmt.Errorf("user %s: %w", ba.UserID, repository.ErrNotFound)
		}
		if _, ok := st.basic[ba.UserID]; ok {
			return repository.ErrConflict
		}
		ba.ID = newID(ba.ID)
		ba.CreatedAt = nowIfZero(ba.CreatedAt)
		ba.UpdatedAt = ba.CreatedAt
		st.basic[ba.UserID] = *ba
		return nil
	})
}

func (b basicAuthRepo) GetByUser(_ context.Context, userID string) (*repository.BasicAuth, error) {
	var out repository.BasicAuth
	err := b.r.do(func(st *state) error {
		ba, ok := st.basic[userID]
		if !ok {
			return repository.ErrNotFound
		}
		out = ba
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b basicAuthRepo) UpdatePasswordHash(_ context.Context, userID, hash string, at time.Time) error {
	return b.r.do(func(st *state) error {
		ba, ok := st.basic[userID]
		if !ok {
			return repository.ErrNotFound
		}
		ba.PasswordHash = hash
		ba.UpdatedAt = at
		st.basic[userID] = ba
		return nil
	})
}

// ─── UserTokenRepository ───

type tokenRepo struct{ r repos }

func (t tokenRepo) Create(_ context.Context, tok *repository.UserToken) error {
	return t.r.do(func(st *state) error {
		if _, ok := st.users[tok.UserID]; !ok {
			return fmt.Errorf("user %s: %w", tok.UserID, repository.ErrNotFound)
		}
		for _, other := range st.tokens {
			if other.TokenHash == tok.TokenHash {
				return repository.ErrConflict
			}
		}
		tok.ID = newID(tok.ID)
		tok.CreatedAt = nowIfZero(tok.CreatedAt)
		st.tokens[tok.ID] = *tok
		return nil
	})
}

func (t tokenRepo) GetByHash(_ context.Context, tokenHash string) (*repository.UserToken, error) {
	var out *repository.UserToken
	err := t.r.do(func(st *state) error {
		for _, x := range st.tokens {
			if x.TokenHash == tokenHash {
				x := x
				out = &x
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (t tokenRepo) MarkConsumed(_ context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := t.r.do(func(st *state) error {
		x, ok := st.tokens[id]
		if !ok {
			return repository.ErrNotFound
		}
		if x.ConsumedAt != nil {
			return nil
		}
		x.ConsumedAt = &at
		st.tokens[id] = x
		changed = true
		return nil
	})
	return changed, err
}

func (t tokenRepo) RevokeAllByUser(_ context.Context, userID string, kinds []repository.TokenKind, at time.Time) (int, error) {
	want := make(map[repository.TokenKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	n := 0
	err := t.r.do(func(st *state) error {
		for id, x := range st.tokens {
			if x.UserID != userID || x.ConsumedAt != nil {
				continue
			}
			if len(want) > 0 && !want[x.Kind] {
				continue
			}
			x.ConsumedAt = &at
			x.RevokedAt = &at
			st.tokens[id] = x
			n++
		}
		return nil
	})
	return n, err
}

func (t tokenRepo) ListByUser(_ context.Context, userID string) ([]repository.UserToken, error) {
	var out []repository.UserToken
	err := t.r.do(func(st *state) error {
		for _, x := range st.tokens {
			if x.UserID == userID {
				out = append(out, x)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// ─── TOTPRepository ───

type totpRepo struct{ r repos }

func (t totpRepo) Create(_ context.Context, tp *repository.TOTP, codes []repository.TOTPBackupCode) error {
	return t.r.do(func(st *state) error {
		if _, ok := st.users[tp.UserID]; !ok {
			return fmt.Errorf("user %s: %w", tp.UserID, repository.ErrNotFound)
		}
		if _, ok := st.totp[tp.UserID]; ok {
			return repository.ErrConflict
		}
		tp.ID = newID(tp.ID)
		tp.CreatedAt = nowIfZero(tp.CreatedAt)
		if tp.Interval <= 0 {
			tp.Interval = repository.DefaultTOTPInterval
		}
		tp.BackupCodes = make([]repository.TOTPBackupCode, len(codes))
		for i, c := range codes {
			c.ID = newID(c.ID)
			c.TOTPID = tp.ID
			c.CreatedAt = nowIfZero(c.CreatedAt)
			tp.BackupCodes[i] = c
		}
		st.totp[tp.UserID] = copyTOTP(*tp)
		return nil
	})
}

func (t totpRepo) GetByUser(_ context.Context, userID string) (*repository.TOTP, error) {
	var out repository.TOTP
	err := t.r.do(func(st *state) error {
		tp, ok := st.totp[userID]
		if !ok {
			return repository.ErrNotFound
		}
		out = copyTOTP(tp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (t totpRepo) byID(st *state, totpID string) (string, repository.TOTP, bool) {
	for uid, tp := range st.totp {
		if tp.ID == totpID {
			return uid, tp, true
		}
	}
	return "", repository.TOTP{}, false
}

func (t totpRepo) AdvanceStep(_ context.Context, totpID string, step int64) (bool, error) {
	var ok bool
	err := t.r.do(func(st *state) error {
		uid, tp, found := t.byID(st, totpID)
		if !found {
			return repository.ErrNotFound
		}
		if step <= tp.LastUsedStep {
			return nil
		}
		tp.LastUsedStep = step
		st.totp[uid] = tp
		ok = true
		return nil
	})
	return ok, err
}

func (t totpRepo) UseBackupCode(_ context.Context, totpID, codeHash string, at time.Time) (bool, error) {
	var ok bool
	err := t.r.do(func(st *state) error {
		uid, tp, found := t.byID(st, totpID)
		if !found {
			return repository.ErrNotFound
		}
		tp = copyTOTP(tp)
		for i, c := range tp.BackupCodes {
			if c.CodeHash == codeHash && !c.Used {
				tp.BackupCodes[i].Used = true
				tp.BackupCodes[i].UsedAt = &at
				st.totp[uid] = tp
				ok = true
				return nil
			}
		}
		return nil
	})
	return ok, err
}

func (t totpRepo) DeleteByUser(_ context.Context, userID string) error {
	return t.r.do(func(st *state) error {
		if _, ok := st.totp[userID]; !ok {
			return repository.ErrNotFound
		}
		delete(st.totp, userID)
		return nil
	})
}

// ─── MetadataRepository ───

type metadataRepo struct{ r repos }

func (m metadataRepo) Set(_ context.Context, userID, key, value string) error {
	return m.r.do(func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
		}
		mm, ok := st.meta[userID]
		if !ok {
			mm = make(map[string]string)
			st.meta[userID] = mm
		}
		mm[key] = value
		return nil
	})
}

func (m metadataRepo) Get(_ context.Context, userID, key string) (string, error) {
	var v string
	err := m.r.do(func(st *state) error {
		val, ok := st.meta[userID][key]
		if !ok {
			return repository.ErrNotFound
		}
		v = val
		return nil
	})
	return v, err
}

func (m metadataRepo) List(_ context.Context, userID string) ([]repository.UserMetadata, error) {
	var out []repository.UserMetadata
	err := m.r.do(func(st *state) error {
		for k, v := range st.meta[userID] {
			out = append(out, repository.UserMetadata{UserID: userID, Key: k, Value: v})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

func (m metadataRepo) Delete(_ context.Context, userID, key string) error {
	return m.r.do(func(st *state) error {
		if _, ok := st.meta[userID][key]; !ok {
			return repository.ErrNotFound
		}
		delete(st.meta[userID], key)
		return nil
	})
}

package memory

import (
	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

type state struct {
	apps   map[string]repository.Application
	users  map[string]repository.User
	emails map[string]repository.EmailAddress
	basic  map[string]repository.BasicAuth // por user_id
	tokens map[string]repository.UserToken
	totp   map[string]repository.TOTP // por user_id
	meta   map[string]map[string]string
}

func newState() *state {
	return &state{
		apps:   make(map[string]repository.Application),
		users:  make(map[string]repository.User),
		emails: make(map[string]repository.EmailAddress),
		basic:  make(map[string]repository.BasicAuth),
		tokens: make(map[string]repository.UserToken),
		totp:   make(map[string]repository.TOTP),
		meta:   make(map[string]map[string]string),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.apps {
		c.apps[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.basic {
		c.basic[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.totp {
		c.totp[k] = copyTOTP(v)
	}
	for k, m := range s.meta {
		mm := make(map[string]string, len(m))
		for kk, vv := range m {
			mm[kk] = vv
		}
		c.meta[k] = mm
	}
	return c
}

func copyTOTP(t repository.TOTP) repository.TOTP {
	codes := make([]repository.TOTPBackupCode, len(t.BackupCodes))
	copy(codes, t.BackupCodes)
	t.BackupCodes = codes
	return t
}

// deleteUser borra al usuario y todo lo que depende de él.
func (s *state) deleteUser(userID string) {
	delete(s.users, userID)
	delete(s.basic, userID)
	delete(s.totp, userID)
	delete(s.meta, userID)
	for id, e := range s.emails {
		if e.UserID == userID {
			delete(s.emails, id)
		}
	}
	for id, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, id)
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// IPs o CIDRs de proxies cuyo X-Forwarded-For se acepta. Vacío = ninguno.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// postgres | sqlite | memory
		Driver       string `yaml:"driver"`
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
		// Migrate aplica las migraciones al arrancar serve.
		Migrate bool `yaml:"migrate"`
	} `yaml:"storage"`

	Replication struct {
		// Token es el bearer compartido con el servicio de configuración.
		Token       string        `yaml:"token"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
		NodeID      string        `yaml:"node_id"`
		Broadcast   struct {
			// none | redis
			Driver string `yaml:"driver"`
			Redis  struct {
				Addr     string `yaml:"addr"`
				Password string `yaml:"password"`
				DB       int    `yaml:"db"`
				Channel  string `yaml:"channel"`
			} `yaml:"redis"`
		} `yaml:"broadcast"`
	} `yaml:"replication"`

	Tokens struct {
		Issuer string `yaml:"issuer"`
		// SigningKey es la seed Ed25519 (base64). Vacía = clave efímera (solo dev).
		SigningKey       string        `yaml:"signing_key"`
		AccessTTL        time.Duration `yaml:"access_ttl"`
		RefreshTTL       time.Duration `yaml:"refresh_ttl"`
		PasswordResetTTL time.Duration `yaml:"password_reset_ttl"`
		TOTPFlowTTL      time.Duration `yaml:"totp_flow_ttl"`
		RotateOnRefresh  bool          `yaml:"rotate_on_refresh"`
	} `yaml:"tokens"`

	Security struct {
		Argon2 struct {
			MemoryKiB   uint32 `yaml:"memory_kib"`
			Time        uint32 `yaml:"time"`
			Parallelism uint8  `yaml:"parallelism"`
			KeyLen      uint32 `yaml:"key_len"`
		} `yaml:"argon2"`
		// HashConcurrency limita cuántos hashes argon2 corren a la vez.
		HashConcurrency int    `yaml:"hash_concurrency"`
		BlacklistPath   string `yaml:"blacklist_path"`
		// SecretboxKey cifra los secretos TOTP en reposo (base64, 32 bytes).
		SecretboxKey string `yaml:"secretbox_key"`
		TOTPIssuer   string `yaml:"totp_issuer"`
		BackupCodes  int    `yaml:"backup_codes"`
	} `yaml:"security"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"` // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"smtp"`
}

// Load lee el YAML (path vacío = solo defaults + env), aplica defaults y
// después las variables de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

// applyDefaults: sane defaults para todo lo que quedó vacío.
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 20
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Replication.SnapshotTTL == 0 {
		c.Replication.SnapshotTTL = 5 * time.Minute
	}
	if c.Replication.Broadcast.Driver == "" {
		c.Replication.Broadcast.Driver = "none"
	}
	if c.Replication.Broadcast.Redis.Channel == "" {
		c.Replication.Broadcast.Redis.Channel = "authcore:replication"
	}
	if c.Tokens.Issuer == "" {
		c.Tokens.Issuer = "authcore"
	}
	if c.Tokens.AccessTTL == 0 {
		c.Tokens.AccessTTL = 15 * time.Minute
	}
	if c.Tokens.RefreshTTL == 0 {
		c.Tokens.RefreshTTL = 720 * time.Hour // 30d
	}
	if c.Tokens.PasswordResetTTL == 0 {
		c.Tokens.PasswordResetTTL = time.Hour
	}
	if c.Tokens.TOTPFlowTTL == 0 {
		c.Tokens.TOTPFlowTTL = 5 * time.Minute
	}
	a := &c.Security.Argon2
	if a.MemoryKiB == 0 {
		a.MemoryKiB = 64 * 1024
	}
	if a.Time == 0 {
		a.Time = 3
	}
	if a.Parallelism == 0 {
		a.Parallelism = 1
	}
	if a.KeyLen == 0 {
		a.KeyLen = 32
	}
	if c.Security.HashConcurrency == 0 {
		c.Security.HashConcurrency = 4
	}
	if c.Security.TOTPIssuer == "" {
		c.Security.TOTPIssuer = "authcore"
	}
	if c.Security.BackupCodes == 0 {
		c.Security.BackupCodes = 10
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP / SERVER / LOG
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvDur("SERVER_SHUTDOWN_TIMEOUT"); ok {
		c.Server.ShutdownTimeout = v
	}
	if v, ok := getEnvStr("SERVER_TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("STORAGE_MAX_OPEN_CONNS"); ok {
		c.Storage.MaxOpenConns = v
	}
	if v, ok := getEnvInt("STORAGE_MAX_IDLE_CONNS"); ok {
		c.Storage.MaxIdleConns = v
	}
	if v, ok := getEnvBool("FLAGS_MIGRATE"); ok {
		c.Storage.Migrate = v
	}

	// REPLICATION
	if v, ok := getEnvStr("REPLICATION_TOKEN"); ok {
		c.Replication.Token = v
	}
	if v, ok := getEnvDur("REPLICATION_SNAPSHOT_TTL"); ok {
		c.Replication.SnapshotTTL = v
	}
	if v, ok := getEnvStr("NODE_ID"); ok {
		c.Replication.NodeID = v
	}
	if v, ok := getEnvStr("REPLICATION_BROADCAST"); ok {
		c.Replication.Broadcast.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Replication.Broadcast.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Replication.Broadcast.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Replication.Broadcast.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_CHANNEL"); ok {
		c.Replication.Broadcast.Redis.Channel = v
	}

	// TOKENS
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.Tokens.Issuer = v
	}
	if v, ok := getEnvStr("SIGNING_MASTER_KEY"); ok {
		c.Tokens.SigningKey = v
	}
	if v, ok := getEnvDur("JWT_ACCESS_TTL"); ok {
		c.Tokens.AccessTTL = v
	}
	if v, ok := getEnvDur("JWT_REFRESH_TTL"); ok {
		c.Tokens.RefreshTTL = v
	}
	if v, ok := getEnvDur("AUTH_RESET_TTL"); ok {
		c.Tokens.PasswordResetTTL = v
	}
	if v, ok := getEnvDur("MFA_FLOW_TTL"); ok {
		c.Tokens.TOTPFlowTTL = v
	}
	if v, ok := getEnvBool("AUTH_ROTATE_REFRESH"); ok {
		c.Tokens.RotateOnRefresh = v
	}

	// SECURITY
	if v, ok := getEnvInt("ARGON2_MEMORY_KIB"); ok && v > 0 {
		c.Security.Argon2.MemoryKiB = uint32(v)
	}
	if v, ok := getEnvInt("ARGON2_TIME"); ok && v > 0 {
		c.Security.Argon2.Time = uint32(v)
	}
	if v, ok := getEnvInt("HASH_CONCURRENCY"); ok {
		c.Security.HashConcurrency = v
	}
	if v, ok := getEnvStr("SECURITY_PASSWORD_BLACKLIST_PATH"); ok {
		c.Security.BlacklistPath = v
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretboxKey = v
	}
	if v, ok := getEnvStr("MFA_TOTP_ISSUER"); ok {
		c.Security.TOTPIssuer = v
	}
	if v, ok := getEnvInt("MFA_BACKUP_CODES"); ok {
		c.Security.BackupCodes = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvBool("SMTP_INSECURE_SKIP_VERIFY"); ok {
		c.SMTP.InsecureSkipVerify = v
	}
}

// IsProd indica si corre en producción.
func (c *Config) IsProd() bool { return c.App.Env == "prod" }

// Validate junta todos los problemas en un solo error.
// En prod exige claves persistentes y token de replicación.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			add("storage.dsn is required for postgres")
		}
	case "sqlite", "memory":
	default:
		add("storage.driver %q not supported (postgres|sqlite|memory)", c.Storage.Driver)
	}

	for _, p := range c.Server.TrustedProxies {
		p = strings.TrimSpace(p)
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil && p != "" {
			add("server.trusted_proxies: %q is not an IP or CIDR", p)
		}
	}

	switch c.Replication.Broadcast.Driver {
	case "none":
	case "redis":
		if c.Replication.Broadcast.Redis.Addr == "" {
			add("replication.broadcast.redis.addr is required for redis broadcast")
		}
	default:
		add("replication.broadcast.driver %q not supported (none|redis)", c.Replication.Broadcast.Driver)
	}

	for name, d := range map[string]time.Duration{
		"tokens.access_ttl":         c.Tokens.AccessTTL,
		"tokens.refresh_ttl":        c.Tokens.RefreshTTL,
		"tokens.password_reset_ttl": c.Tokens.PasswordResetTTL,
		"tokens.totp_flow_ttl":      c.Tokens.TOTPFlowTTL,
		"replication.snapshot_ttl":  c.Replication.SnapshotTTL,
	} {
		if d < 0 {
			add("%s must be positive", name)
		}
	}

	if c.Security.HashConcurrency < 1 {
		add("security.hash_concurrency must be >= 1")
	}
	if c.Security.BackupCodes < 1 || c.Security.BackupCodes > 20 {
		add("security.backup_codes must be in 1..20")
	}
	if c.Security.Argon2.KeyLen < 16 {
		add("security.argon2.key_len must be >= 16")
	}

	switch c.SMTP.TLS {
	case "auto", "starttls", "ssl", "none":
	default:
		add("smtp.tls %q not supported (auto|starttls|ssl|none)", c.SMTP.TLS)
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		add("smtp.from is required when smtp.host is set")
	}

	if c.IsProd() {
		if c.Tokens.SigningKey == "" {
			add("tokens.signing_key is required in prod")
		}
		if c.Security.SecretboxKey == "" {
			add("security.secretbox_key is required in prod")
		}
		if c.Replication.Token == "" {
			add("replication.token is required in prod")
		}
		if c.Storage.Driver == "memory" {
			add("storage.driver memory is not allowed in prod")
		}
	}

	return errors.Join(errs...)
}

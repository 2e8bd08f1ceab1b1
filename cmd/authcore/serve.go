package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/authcore/internal/config"
	"github.com/dropDatabas3/authcore/internal/credential"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	httpserver "github.com/dropDatabas3/authcore/internal/http"
	"github.com/dropDatabas3/authcore/internal/jwt"
	"github.com/dropDatabas3/authcore/internal/messaging"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/mfa"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/replication"
	"github.com/dropDatabas3/authcore/internal/security/password"
	"github.com/dropDatabas3/authcore/internal/security/secretbox"
	"github.com/dropDatabas3/authcore/internal/services/auth"
	"github.com/dropDatabas3/authcore/internal/session"
	"github.com/dropDatabas3/authcore/internal/store"
	"github.com/dropDatabas3/authcore/internal/token"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// components es todo lo que arma serve; se construye una vez y se pasa explícito.
type components struct {
	store   repository.Store
	bc      replication.Broadcaster
	apps    *replication.Cache
	keys    *jwt.KeySet
	metrics *metrics.Metrics
	auth    *auth.Service
}

func (c *components) close() {
	if c.bc != nil {
		_ = c.bc.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

func build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*components, error) {
	log := logger.L().With(logger.Op("build"))
	c := &components{}

	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	c.metrics = m

	// ─── Storage ───
	c.store, err = store.Open(ctx, cfg.Storage.Driver, store.AdapterConfig{
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Migrate {
		res, err := store.Migrate(ctx, c.store)
		if err != nil {
			c.close()
			return nil, err
		}
		log.Info("migrations applied", logger.Count(len(res.Applied)))
	}

	// ─── Replicación ───
	switch cfg.Replication.Broadcast.Driver {
	case "redis":
		r := cfg.Replication.Broadcast.Redis
		c.bc, err = replication.NewRedis(ctx, replication.RedisConfig{
			Addr: r.Addr, Password: r.Password, DB: r.DB, Channel: r.Channel,
		})
		if err != nil {
			c.close()
			return nil, err
		}
	default:
		c.bc = replication.Noop{}
	}
	c.apps = replication.New(c.store, c.bc, m, replication.Config{
		SnapshotTTL: cfg.Replication.SnapshotTTL,
		NodeID:      cfg.Replication.NodeID,
	})
	if n, err := c.apps.Warmup(ctx); err != nil {
		log.Warn("replica warmup failed", logger.Err(err))
	} else {
		log.Info("replica warmup", logger.Count(n))
	}

	// ─── Crypto ───
	if cfg.Tokens.SigningKey != "" {
		seed, err := jwt.ParseSeed(cfg.Tokens.SigningKey)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("tokens.signing_key: %w", err)
		}
		c.keys, err = jwt.NewKeySet(seed)
		if err != nil {
			c.close()
			return nil, err
		}
	} else {
		log.Warn("no signing key configured, using an ephemeral one")
		c.keys, err = jwt.NewDevKeySet()
		if err != nil {
			c.close()
			return nil, err
		}
	}

	var box *secretbox.Box
	if cfg.Security.SecretboxKey != "" {
		key, err := secretbox.ParseKey(cfg.Security.SecretboxKey)
		if err == nil {
			box, err = secretbox.New(key)
		}
		if err != nil {
			c.close()
			return nil, fmt.Errorf("security.secretbox_key: %w", err)
		}
	} else {
		log.Warn("no secretbox key configured, TOTP secrets stored in clear")
	}

	var blacklist *password.Blacklist
	if cfg.Security.BlacklistPath != "" {
		blacklist, err = password.LoadBlacklist(cfg.Security.BlacklistPath)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("security.blacklist_path: %w", err)
		}
		log.Info("password blacklist loaded", logger.Count(blacklist.Len()))
	}

	a := cfg.Security.Argon2
	hasher := password.NewHasher(password.Params{
		Memory: a.MemoryKiB, Time: a.Time, Parallelism: a.Parallelism, KeyLen: a.KeyLen,
	}, cfg.Security.HashConcurrency)

	// ─── Core ───
	tokens := token.NewEngine(c.store, token.TTLs{
		PasswordReset: cfg.Tokens.PasswordResetTTL,
		Refresh:       cfg.Tokens.RefreshTTL,
		TOTPFlow:      cfg.Tokens.TOTPFlowTTL,
	}, m)
	issuer := jwt.NewIssuer(cfg.Tokens.Issuer, c.keys, cfg.Tokens.AccessTTL)

	var dispatcher messaging.Dispatcher = messaging.LogDispatcher{Reveal: !cfg.IsProd()}
	if cfg.SMTP.Host != "" {
		tpl, err := messaging.LoadTemplates()
		if err != nil {
			c.close()
			return nil, err
		}
		dispatcher = messaging.NewSMTP(messaging.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			From:               cfg.SMTP.From,
			TLSMode:            cfg.SMTP.TLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}, tpl)
	}

	c.auth = auth.NewService(auth.Deps{
		Store:       c.store,
		Apps:        c.apps,
		Credentials: credential.New(hasher, blacklist, m),
		Tokens:      tokens,
		Sessions:    session.NewManager(c.store, tokens, issuer, session.Config{RotateOnRefresh: cfg.Tokens.RotateOnRefresh}),
		MFA: mfa.NewService(c.store, tokens, box, mfa.Config{
			Issuer:      cfg.Security.TOTPIssuer,
			BackupCodes: cfg.Security.BackupCodes,
		}),
		Dispatcher: dispatcher,
		Metrics:    m,
	})
	return c, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.L().With(logger.Op("serve"))

	c, err := build(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer c.close()

	proxies, err := httpserver.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}

	handler := httpserver.NewRouter(httpserver.Deps{
		Auth:             c.auth,
		Apps:             c.apps,
		Store:            c.store,
		Metrics:          c.metrics,
		JWKS:             c.keys.JWKSJSON(),
		Proxies:          proxies,
		ReplicationToken: cfg.Replication.Token,
	})
	srv := httpserver.NewServer(cfg.Server.Addr, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.apps.Run(gctx)
	})
	g.Go(func() error {
		log.Info("listening",
			logger.String("addr", cfg.Server.Addr),
			logger.String("store", c.store.Name()),
			logger.NodeID(c.apps.NodeID()))
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

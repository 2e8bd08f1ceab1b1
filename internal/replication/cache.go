// Package replication mantiene la réplica local de las Applications que
// empuja el servicio de configuración.
//
// Escrituras: serializadas por application_id y visibles recién después del
// commit. Lecturas: sin lock, contra el último snapshot commiteado. Un miss
// va al store; si la Application no existe el flujo que la pidió falla.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
)

// DefaultSnapshotTTL acota cuánto puede vivir un snapshot si se pierde una invalidación.
const DefaultSnapshotTTL = 5 * time.Minute

type Config struct {
	SnapshotTTL time.Duration
	// NodeID identifica a esta instancia en los eventos; vacío genera uno.
	NodeID string
}

type Cache struct {
	store   repository.Store
	bc      Broadcaster
	metrics *metrics.Metrics
	nodeID  string

	snap  *gocache.Cache
	locks *keyLocks
	sf    singleflight.Group

	// gen evita que una carga lenta pise un snapshot más nuevo.
	genMu sync.Mutex
	gen   map[string]uint64
}

// New arma el cache. bc nil equivale a Noop.
func New(store repository.Store, bc Broadcaster, m *metrics.Metrics, cfg Config) *Cache {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = DefaultSnapshotTTL
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if bc == nil {
		bc = Noop{}
	}
	return &Cache{
		store:   store,
		bc:      bc,
		metrics: m,
		nodeID:  cfg.NodeID,
		snap:    gocache.New(cfg.SnapshotTTL, time.Minute),
		locks:   newKeyLocks(),
		gen:     make(map[string]uint64),
	}
}

func (c *Cache) NodeID() string { return c.nodeID }

// ─── Writes ───

// ApplyUpsert es idempotente y last-write-wins por application_id. Las dos
// sub-configs se escriben en la misma tx que la Application.
func (c *Cache) ApplyUpsert(ctx context.Context, app repository.Application) error {
	log := logger.For(ctx, "replication", "ApplyUpsert", logger.ApplicationID(app.ID))

	if err := app.Validate(); err != nil {
		c.metrics.Replication(string(EventUpsert), "invalid")
		return apperrors.ErrInvalidConfig.WithDetail(err.Error())
	}

	unlock := c.locks.lock(app.ID)
	defer unlock()

	if err := c.store.Applications().Upsert(ctx, &app); err != nil {
		c.metrics.Replication(string(EventUpsert), "error")
		log.Error("upsert failed", logger.Err(err))
		return apperrors.Internal(err)
	}

	// Recién commiteado: se publica el snapshot completo de una vez.
	c.put(app.ID, app)
	c.metrics.Replication(string(EventUpsert), "ok")
	log.Info("application replicated", logger.String("domain", app.DomainName))

	c.publish(ctx, EventUpsert, app.ID)
	return nil
}

// ApplyDelete borra la réplica y en cascada todo lo que cuelga de ella.
// Borrar algo que no existe no es error.
func (c *Cache) ApplyDelete(ctx context.Context, applicationID string) error {
	log := logger.For(ctx, "replication", "ApplyDelete", logger.ApplicationID(applicationID))

	if applicationID == "" {
		return apperrors.ErrBadRequest.WithDetail("application_id is required")
	}

	unlock := c.locks.lock(applicationID)
	defer unlock()

	err := c.store.Applications().Delete(ctx, applicationID)
	switch {
	case err == nil:
		log.Info("application deleted")
	case repository.IsNotFound(err):
		log.Debug("application already absent")
	default:
		c.metrics.Replication(string(EventDelete), "error")
		log.Error("delete failed", logger.Err(err))
		return apperrors.Internal(err)
	}

	c.Invalidate(applicationID)
	c.metrics.Replication(string(EventDelete), "ok")
	c.publish(ctx, EventDelete, applicationID)
	return nil
}

// ─── Reads ───

// Resolve nunca inventa una política: si no hay réplica, ErrApplicationNotFound.
func (c *Cache) Resolve(ctx context.Context, applicationID string) (*repository.Application, error) {
	if applicationID == "" {
		return nil, apperrors.ErrApplicationNotFound
	}
	if v, ok := c.snap.Get(applicationID); ok {
		c.metrics.CacheLookup("snapshot")
		app := v.(repository.Application)
		return &app, nil
	}

	v, err, _ := c.sf.Do(applicationID, func() (any, error) {
		gen := c.generation(applicationID)
		app, err := c.store.Applications().Get(ctx, applicationID)
		if err != nil {
			return nil, err
		}
		c.putIfGen(applicationID, *app, gen)
		return *app, nil
	})
	if err != nil {
		if repository.IsNotFound(err) {
			c.metrics.CacheLookup("miss")
			return nil, apperrors.ErrApplicationNotFound
		}
		logger.From(ctx).Error("resolve failed",
			logger.Layer("replication"), logger.ApplicationID(applicationID), logger.Err(err))
		return nil, apperrors.Internal(err)
	}
	c.metrics.CacheLookup("store")
	app := v.(repository.Application)
	return &app, nil
}

// Invalidate descarta el snapshot local; la próxima lectura va al store.
func (c *Cache) Invalidate(applicationID string) {
	c.genMu.Lock()
	c.gen[applicationID]++
	c.snap.Delete(applicationID)
	c.genMu.Unlock()
}

// Warmup carga todas las réplicas al arrancar.
func (c *Cache) Warmup(ctx context.Context) (int, error) {
	apps, err := c.store.Applications().List(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range apps {
		c.putIfGen(a.ID, a, c.generation(a.ID))
	}
	return len(apps), nil
}

// Len es la cantidad de snapshots vivos.
func (c *Cache) Len() int { return c.snap.ItemCount() }

// ─── Cross-instance ───

// Run escucha invalidaciones de otras instancias hasta que ctx se cancela.
func (c *Cache) Run(ctx context.Context) error {
	sub, err := c.bc.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	c.Listen(ctx, sub)
	return nil
}

// Listen procesa eventos de sub. Los propios se ignoran.
func (c *Cache) Listen(ctx context.Context, sub Subscription) {
	log := logger.For(ctx, "replication", "Listen")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Origin == c.nodeID {
				continue
			}
			c.Invalidate(ev.ApplicationID)
			c.metrics.Replication("remote_"+string(ev.Type), "ok")
			log.Debug("snapshot invalidated", logger.ApplicationID(ev.ApplicationID), logger.Origin(ev.Origin))
		}
	}
}

func (c *Cache) publish(ctx context.Context, t EventType, applicationID string) {
	ev := Event{Type: t, ApplicationID: applicationID, Origin: c.nodeID, At: time.Now().UTC()}
	if err := c.bc.Publish(ctx, ev); err != nil {
		// El TTL del snapshot cubre a las otras instancias.
		logger.From(ctx).Warn("replication publish failed",
			logger.Layer("replication"), logger.ApplicationID(applicationID), logger.Err(err))
	}
}

func (c *Cache) generation(id string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gen[id]
}

func (c *Cache) put(id string, app repository.Application) {
	c.genMu.Lock()
	c.gen[id]++
	c.snap.SetDefault(id, app)
	c.genMu.Unlock()
}

func (c *Cache) putIfGen(id string, app repository.Application, gen uint64) {
	c.genMu.Lock()
	if c.gen[id] == gen {
		c.snap.SetDefault(id, app)
	}
	c.genMu.Unlock()
}

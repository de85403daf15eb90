package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/nats-io/nats.go"
)

// InvalidationHandler вызывается для ресурса, изменённого на другом узле
type InvalidationHandler func(ctx context.Context, id string) error

// InvalidatorConfig содержит конфигурацию рассылки инвалидаций.
type InvalidatorConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	DedupeWindow  time.Duration
}

// InvalidationMessage - сообщение об изменении ресурса
type InvalidationMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
}

// InvalidatorStats - счётчики рассылки
type InvalidatorStats struct {
	Published uint64
	Received  uint64
	Errors    uint64
}

// Invalidator рассылает через NATS Pub/Sub идентификаторы перезаписанных
// баз, чтобы узлы сбросили кешированные копии.
type Invalidator struct {
	conn   *nats.Conn
	cfg    InvalidatorConfig
	nodeID string
	log    logging.Interface

	sub     *nats.Subscription
	handler InvalidationHandler

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	recentMu sync.Mutex
	recent   map[string]time.Time

	published atomic.Uint64
	received  atomic.Uint64
	errors    atomic.Uint64
}

// NewInvalidator подключается к NATS
func NewInvalidator(cfg InvalidatorConfig, nodeID string, log logging.Interface) (*Invalidator, error) {
	cfg = cfg.withDefaults()
	log = logging.OrNop(log)

	conn, err := nats.Connect(cfg.URL,
		nats.Name("voxel-terrain-invalidator"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnf("NATS отключён: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS переподключён к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS: %w", err)
	}

	inv := newInvalidator(conn, cfg, nodeID, log)
	inv.startDedupeCleanup()
	log.Infof("Рассылка инвалидаций ресурсов: %s (subject %s)", cfg.URL, cfg.Subject)
	return inv, nil
}

func (c InvalidatorConfig) withDefaults() InvalidatorConfig {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = "terrain.resources.invalidate"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 5 * time.Second
	}
	return c
}

func newInvalidator(conn *nats.Conn, cfg InvalidatorConfig, nodeID string, log logging.Interface) *Invalidator {
	return &Invalidator{
		conn:   conn,
		cfg:    cfg.withDefaults(),
		nodeID: nodeID,
		log:    logging.OrNop(log),
		stopCh: make(chan struct{}),
		recent: make(map[string]time.Time),
	}
}

// Publish сообщает другим узлам, что ресурс id изменился
func (inv *Invalidator) Publish(ctx context.Context, id, reason string) error {
	clean, err := CleanID(id)
	if err != nil {
		return err
	}
	if inv.isDuplicate(clean) {
		return nil
	}

	data, err := json.Marshal(InvalidationMessage{
		ID:        clean,
		Timestamp: time.Now(),
		NodeID:    inv.nodeID,
		Reason:    reason,
	})
	if err != nil {
		inv.errors.Add(1)
		return fmt.Errorf("ошибка сериализации инвалидации: %w", err)
	}

	if err := inv.conn.Publish(inv.cfg.Subject, data); err != nil {
		inv.errors.Add(1)
		return fmt.Errorf("ошибка публикации инвалидации %q: %w", clean, err)
	}
	// Publish буферизует, дожидаемся отправки
	if err := inv.conn.FlushWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		inv.errors.Add(1)
		return fmt.Errorf("ошибка отправки инвалидации %q: %w", clean, err)
	}

	inv.recordKey(clean)
	inv.published.Add(1)
	inv.log.Debugf("Опубликована инвалидация %s", clean)
	return nil
}

// Subscribe начинает доставлять чужие инвалидации в handler
func (inv *Invalidator) Subscribe(ctx context.Context, handler InvalidationHandler) error {
	if inv.sub != nil {
		return fmt.Errorf("подписка на инвалидации уже есть")
	}
	inv.handler = handler

	sub, err := inv.conn.Subscribe(inv.cfg.Subject, func(msg *nats.Msg) {
		inv.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("ошибка подписки на инвалидации: %w", err)
	}
	inv.sub = sub
	return nil
}

// handle разбирает сообщение, отбрасывая свои и повторные
func (inv *Invalidator) handle(ctx context.Context, data []byte) {
	inv.received.Add(1)

	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		inv.errors.Add(1)
		logging.LogPayloadError(inv.log, "invalidation", err, data)
		return
	}
	if msg.NodeID == inv.nodeID {
		return
	}
	if inv.isDuplicate(msg.ID) {
		return
	}
	inv.recordKey(msg.ID)

	if inv.handler == nil {
		return
	}
	if err := inv.handler(ctx, msg.ID); err != nil {
		inv.errors.Add(1)
		inv.log.Errorf("Ошибка обработки инвалидации %s: %v", msg.ID, err)
		return
	}
	inv.log.Debugf("Ресурс %s изменён на узле %s (%s)", msg.ID, msg.NodeID, msg.Reason)
}

// Stats возвращает счётчики
func (inv *Invalidator) Stats() InvalidatorStats {
	return InvalidatorStats{
		Published: inv.published.Load(),
		Received:  inv.received.Load(),
		Errors:    inv.errors.Load(),
	}
}

// Close отписывается и закрывает соединение
func (inv *Invalidator) Close() error {
	inv.closeOnce.Do(func() {
		close(inv.stopCh)
		inv.wg.Wait()
		if inv.sub != nil {
			_ = inv.sub.Unsubscribe()
			inv.sub = nil
		}
		if inv.conn != nil {
			inv.conn.Close()
		}
	})
	return nil
}

func (inv *Invalidator) isDuplicate(id string) bool {
	inv.recentMu.Lock()
	defer inv.recentMu.Unlock()
	last, ok := inv.recent[id]
	return ok && time.Since(last) < inv.cfg.DedupeWindow
}

func (inv *Invalidator) recordKey(id string) {
	inv.recentMu.Lock()
	inv.recent[id] = time.Now()
	inv.recentMu.Unlock()
}

func (inv *Invalidator) startDedupeCleanup() {
	inv.wg.Add(1)
	go func() {
		defer inv.wg.Done()
		ticker := time.NewTicker(inv.cfg.DedupeWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				inv.cleanupDedupe()
			case <-inv.stopCh:
				return
			}
		}
	}()
}

func (inv *Invalidator) cleanupDedupe() {
	inv.recentMu.Lock()
	defer inv.recentMu.Unlock()
	now := time.Now()
	for id, ts := range inv.recent {
		if now.Sub(ts) > inv.cfg.DedupeWindow {
			delete(inv.recent, id)
		}
	}
}

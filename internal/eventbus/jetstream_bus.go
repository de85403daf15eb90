package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
)

// JetStreamOptions параметры подключения к JetStream.
type JetStreamOptions struct {
	URL       string        // nats://127.0.0.1:4222
	Stream    string        // по умолчанию "TERRAIN"
	Subject   string        // префикс subject, по умолчанию "terrain"
	Retention time.Duration // MaxAge стрима
	AckWait   time.Duration
}

// JetStreamBus реализует EventBus поверх NATS JetStream.
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	opts      JetStreamOptions
	log       logging.Interface
	published uint64
	consumed  uint64
	dropped   uint64
}

// NewJetStreamBus подключается к кластеру NATS и гарантирует наличие стрима.
func NewJetStreamBus(opts JetStreamOptions, log logging.Interface) (*JetStreamBus, error) {
	if opts.Stream == "" {
		opts.Stream = "TERRAIN"
	}
	if opts.Subject == "" {
		opts.Subject = "terrain"
	}
	if opts.AckWait <= 0 {
		opts.AckWait = 30 * time.Second
	}
	log = logging.OrNop(log)

	nc, err := nats.Connect(opts.URL, nats.Name("voxel-terrain"))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		_ = nc.Drain()
		return nil, fmt.Errorf("ошибка получения контекста jetstream: %w", err)
	}

	if _, err := js.StreamInfo(opts.Stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      opts.Stream,
			Subjects:  []string{opts.Subject + ".*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    opts.Retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			_ = nc.Drain()
			return nil, fmt.Errorf("ошибка создания стрима %s: %w", opts.Stream, err)
		}
		log.Infof("JetStream: создан стрим %s (%s.*)", opts.Stream, opts.Subject)
	}

	return &JetStreamBus{nc: nc, js: js, opts: opts, log: log}, nil
}

func (jb *JetStreamBus) subject(eventType string) string {
	return jb.opts.Subject + "." + eventType
}

// Publish сериализует Envelope в JSON и публикует в subject <prefix>.<type>.
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		return fmt.Errorf("ошибка сериализации события %s: %w", ev.EventType, err)
	}
	if _, err := jb.js.Publish(jb.subject(ev.EventType), data, nats.Context(ctx)); err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		return fmt.Errorf("ошибка публикации события %s: %w", ev.EventType, err)
	}
	atomic.AddUint64(&jb.published, 1)
	return nil
}

// Subscribe создаёт durable consumer. Новые подписчики получают только новые события.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := jb.opts.Subject + ".*"
	if len(f.Types) == 1 {
		subj = jb.subject(f.Types[0])
	}
	durable := "terrain_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			atomic.AddUint64(&jb.dropped, 1)
			jb.log.Warnf("JetStream: повреждённое событие на %s: %v", msg.Subject, err)
			_ = msg.Term()
			return
		}
		if matchFilter(&ev, f) {
			h(ctx, &ev)
			atomic.AddUint64(&jb.consumed, 1)
		}
		_ = msg.Ack()
	}, nats.ManualAck(), nats.Durable(durable), nats.DeliverNew(), nats.AckWait(jb.opts.AckWait))
	if err != nil {
		return nil, fmt.Errorf("ошибка подписки на %s: %w", subj, err)
	}
	return &jetSub{natSub}, nil
}

// jetSub обёртка вокруг *nats.Subscription
type jetSub struct {
	s *nats.Subscription
}

func (j *jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

// Metrics возвращает текущие метрики.
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&jb.published),
		Consumed:  atomic.LoadUint64(&jb.consumed),
		Dropped:   atomic.LoadUint64(&jb.dropped),
	}
}

// Close дренирует соединение.
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}

package eventbus

import (
	"context"

	"github.com/annel0/voxel-terrain/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог на уровне DEBUG.
// Функция неблокирующая.
func StartLoggingListener(ctx context.Context, bus EventBus, log logging.Interface) (Subscription, error) {
	log = logging.OrNop(log)
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		log.Debugf("[EventBus] %s %s src=%s prio=%d size=%dB enc=%s",
			ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload), ev.Metadata[MetaEncoding])
	})
	if err != nil {
		return nil, err
	}
	log.Infof("LoggingListener: подписка на все события активирована")
	return sub, nil
}

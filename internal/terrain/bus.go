package terrain

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-terrain/internal/eventbus"
)

// BindBus подписывает актор на обновления объёма и сбросы террейна,
// а локальные правки и сбросы начинают публиковаться в bus.
func (t *Terrain) BindBus(ctx context.Context, bus eventbus.EventBus) error {
	t.UnbindBus()

	updates, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventTypeVolumeUpdate}}, t.onVolumeUpdate)
	if err != nil {
		return fmt.Errorf("ошибка подписки на %s: %w", eventbus.EventTypeVolumeUpdate, err)
	}
	resets, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventTypeTerrainReset}}, t.onTerrainReset)
	if err != nil {
		updates.Unsubscribe()
		return fmt.Errorf("ошибка подписки на %s: %w", eventbus.EventTypeTerrainReset, err)
	}

	t.bus = bus
	t.busSubs = []eventbus.Subscription{updates, resets}
	t.log.Infof("Террейн %s подключён к шине событий", t.id)
	return nil
}

// UnbindBus отписывается от шины
func (t *Terrain) UnbindBus() {
	for _, s := range t.busSubs {
		s.Unsubscribe()
	}
	t.busSubs = nil
	t.bus = nil
}

func (t *Terrain) onVolumeUpdate(ctx context.Context, ev *eventbus.Envelope) {
	if ev.Source == t.id.String() {
		return
	}
	msg, err := eventbus.DecodeVolumeUpdate(ev)
	if err != nil {
		t.counters.rejected.Add(1)
		t.log.Errorf("Повреждённое обновление объёма %s от %s: %v", ev.ID, ev.Source, err)
		return
	}
	t.Receive(msg)
}

func (t *Terrain) onTerrainReset(ctx context.Context, ev *eventbus.Envelope) {
	if ev.Source == t.id.String() || !t.opts.Remote {
		return
	}
	n, id, err := eventbus.DecodeTerrainReset(ev)
	if err != nil {
		t.log.Errorf("Повреждённое событие сброса %s: %v", ev.ID, err)
		return
	}
	t.log.Debugf("Сброс террейна %s от %s, счётчик %d", id, ev.Source, n)
	t.requestRemoteReset(n)
}

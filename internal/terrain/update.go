package terrain

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/protocol"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("voxel-terrain/terrain")

// Accepts сообщает, применит ли актор сообщение от source:
// только чужие сообщения и только если политика не запрещает правки извне.
func (t *Terrain) Accepts(source uuid.UUID) bool {
	if source == t.id {
		return false
	}
	return t.opts.Remote || t.opts.LocalUpdatePolicy != IgnoreAll
}

// Receive ставит сообщение в очередь до следующего тика.
// Безопасен для вызова из любой горутины.
func (t *Terrain) Receive(msg *protocol.VolumeUpdateMessage) bool {
	if msg == nil || !t.Accepts(msg.Source()) {
		t.counters.rejected.Add(1)
		return false
	}
	t.inMu.Lock()
	t.inbox = append(t.inbox, msg)
	t.inMu.Unlock()
	t.counters.received.Add(1)
	return true
}

func (t *Terrain) drainInbox() []*protocol.VolumeUpdateMessage {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	msgs := t.inbox
	t.inbox = nil
	return msgs
}

// ApplyUpdate применяет сообщение к гриду 0. Каждая правка учитывается
// в бегущей области трекера; при visualOnly данные не меняются, только
// помечаются ячейки. Записи с индексом не типа Vec3 пропускаются с
// ERROR-логом. Возвращает число применённых записей.
func (t *Terrain) ApplyUpdate(ctx context.Context, msg *protocol.VolumeUpdateMessage, visualOnly bool) int {
	grid := t.store.Primary()
	if grid == nil || msg == nil {
		return 0
	}
	_, span := tracer.Start(ctx, "terrain.ApplyUpdate")
	defer span.End()

	applied := 0
	for i := 0; i < msg.Len(); i++ {
		idx, ok := msg.Index(i).AsVec3()
		if !ok {
			t.counters.malformed++
			t.log.Errorf("%v: %s, запись %d имеет тип %s", protocol.ErrMalformedIndex, msg, i, msg.Index(i).Kind())
			continue
		}

		if t.tracker != nil {
			t.tracker.AddEdit(grid.Transform.IndexToWorld(idx))
		}
		if !visualOnly {
			t.writeValue(grid, vec.RoundVec(idx), msg.Value(i))
		}
		applied++
	}

	span.SetAttributes(
		attribute.Int("entries", msg.Len()),
		attribute.Int("applied", applied),
		attribute.Bool("visual_only", visualOnly),
	)
	t.counters.messages++
	return applied
}

// writeValue пишет значение параметра в грид.
// Null выключает воксель; half расширяется до float32; чужой тип даёт фон.
func (t *Terrain) writeValue(grid *volume.Grid, c vec.Vec3, p protocol.Parameter) {
	var v volume.Value
	switch p.Kind() {
	case protocol.ParamNull:
		grid.SetOff(c)
		return
	case protocol.ParamFloat:
		f, _ := p.AsFloat()
		v = volume.FloatValue(f)
	case protocol.ParamBool:
		b, _ := p.AsBool()
		v = volume.BoolValue(b)
	case protocol.ParamHalf:
		h, _ := p.AsHalf()
		v = volume.FloatValue(protocol.HalfToFloat32(h))
	}
	if err := grid.Write(c, v); err != nil {
		t.log.Warnf("Запись с неверным типом, записан фон: %v", err)
	}
}

// Edit вносит локальную правку: применяет её сразу и публикует в шину.
// Вызывается из потока тика (обычно из ModifyFunc).
func (t *Terrain) Edit(ctx context.Context, indices, values []protocol.Parameter) (*protocol.VolumeUpdateMessage, error) {
	msg, err := protocol.NewVolumeUpdate(t.id, indices, values)
	if err != nil {
		return nil, err
	}
	t.ApplyUpdate(ctx, msg, false)

	if t.bus == nil {
		return msg, nil
	}
	ev, err := eventbus.NewVolumeUpdateEvent(msg, t.opts.CompressThreshold)
	if err != nil {
		return msg, fmt.Errorf("ошибка упаковки правки: %w", err)
	}
	if err := t.bus.Publish(ctx, ev); err != nil {
		return msg, fmt.Errorf("ошибка публикации правки: %w", err)
	}
	return msg, nil
}

// ResetCount - сколько раз локальный актор сбрасывал террейн
func (t *Terrain) ResetCount() uint64 {
	return t.resetCount
}

// SetResetCount принимает счётчик сбросов от владельца террейна.
// Больший счётчик перезагружает базу.
func (t *Terrain) SetResetCount(ctx context.Context, n uint64) error {
	if n <= t.resetCount {
		return nil
	}
	t.resetCount = n
	return t.reload(ctx)
}

// Reset перезагружает текущую базу. Локальный актор увеличивает
// счётчик сбросов и сообщает о нём через шину.
func (t *Terrain) Reset(ctx context.Context) error {
	if err := t.reload(ctx); err != nil {
		return err
	}
	if t.opts.Remote {
		return nil
	}
	t.resetCount++
	if t.bus != nil {
		ev := eventbus.NewTerrainResetEvent(t.id, t.resetCount, t.database)
		if err := t.bus.Publish(ctx, ev); err != nil {
			return fmt.Errorf("ошибка публикации сброса: %w", err)
		}
	}
	return nil
}

func (t *Terrain) reload(ctx context.Context) error {
	if t.database == "" {
		return ErrNoDatabase
	}
	t.log.Infof("Сброс террейна %s", t.database)
	return t.loadDatabase(ctx, t.database, false, true)
}

// RequestReset просит сбросить террейн на следующем тике.
// Безопасен для вызова из любой горутины.
func (t *Terrain) RequestReset() {
	t.inMu.Lock()
	t.resetWanted = true
	t.inMu.Unlock()
}

func (t *Terrain) requestRemoteReset(n uint64) {
	t.inMu.Lock()
	if n > t.remoteResetTo {
		t.remoteResetTo = n
	}
	t.inMu.Unlock()
}

func (t *Terrain) handleResetRequests(ctx context.Context) {
	t.inMu.Lock()
	wanted, remote := t.resetWanted, t.remoteResetTo
	t.resetWanted, t.remoteResetTo = false, 0
	t.inMu.Unlock()

	if remote > 0 {
		if err := t.SetResetCount(ctx, remote); err != nil {
			t.log.Errorf("Ошибка сброса по запросу владельца: %v", err)
		}
	}
	if wanted {
		if err := t.Reset(ctx); err != nil {
			t.log.Errorf("Ошибка сброса: %v", err)
		}
	}
}

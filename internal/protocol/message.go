package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLengthMismatch - число индексов не совпадает с числом значений
	ErrLengthMismatch = errors.New("protocol: indices and values length mismatch")
	// ErrMalformedIndex - индекс в сообщении не является Vec3
	ErrMalformedIndex = errors.New("protocol: malformed update index")
	// ErrBadMessage - не удалось разобрать сообщение
	ErrBadMessage = errors.New("protocol: malformed message")
)

// EventTypeVolumeUpdate - тип события шины для обновлений объёма
const EventTypeVolumeUpdate = "VolumeUpdate"

// VolumeUpdateMessage - разреженное обновление грида: параллельные
// последовательности индексов и значений плюс источник.
// После создания не изменяется.
type VolumeUpdateMessage struct {
	id        uuid.UUID
	source    uuid.UUID
	timestamp time.Time
	indices   []Parameter
	values    []Parameter
}

// NewVolumeUpdate создаёт сообщение, копируя переданные срезы
func NewVolumeUpdate(source uuid.UUID, indices, values []Parameter) (*VolumeUpdateMessage, error) {
	return newMessage(uuid.New(), source, time.Now().UTC(), indices, values)
}

func newMessage(id, source uuid.UUID, ts time.Time, indices, values []Parameter) (*VolumeUpdateMessage, error) {
	if len(indices) != len(values) {
		return nil, fmt.Errorf("%w: %d индексов, %d значений", ErrLengthMismatch, len(indices), len(values))
	}
	m := &VolumeUpdateMessage{
		id:        id,
		source:    source,
		timestamp: ts,
		indices:   append([]Parameter(nil), indices...),
		values:    append([]Parameter(nil), values...),
	}
	return m, nil
}

// ID - уникальный идентификатор сообщения
func (m *VolumeUpdateMessage) ID() uuid.UUID { return m.id }

// Source - участник, создавший сообщение
func (m *VolumeUpdateMessage) Source() uuid.UUID { return m.source }

// Timestamp - время создания (UTC)
func (m *VolumeUpdateMessage) Timestamp() time.Time { return m.timestamp }

// Len - число пар индекс/значение
func (m *VolumeUpdateMessage) Len() int { return len(m.indices) }

// Index возвращает i-й индекс
func (m *VolumeUpdateMessage) Index(i int) Parameter { return m.indices[i] }

// Value возвращает i-е значение
func (m *VolumeUpdateMessage) Value(i int) Parameter { return m.values[i] }

// Indices возвращает копию индексов
func (m *VolumeUpdateMessage) Indices() []Parameter {
	return append([]Parameter(nil), m.indices...)
}

// Values возвращает копию значений
func (m *VolumeUpdateMessage) Values() []Parameter {
	return append([]Parameter(nil), m.values...)
}

func (m *VolumeUpdateMessage) String() string {
	return fmt.Sprintf("VolumeUpdate{id=%s source=%s n=%d}", m.id, m.source, len(m.indices))
}

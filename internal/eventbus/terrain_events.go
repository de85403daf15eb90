package eventbus

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/voxel-terrain/internal/protocol"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Типы событий террейна
const (
	EventTypeVolumeUpdate = protocol.EventTypeVolumeUpdate
	EventTypeTerrainReset = "TerrainReset"
)

// Ключи и значения метаданных
const (
	MetaEncoding   = "encoding"
	EncodingZstd   = "zstd"
	MetaResetCount = "reset_count"
	MetaResourceID = "resource_id"
)

// DefaultCompressThreshold - полезная нагрузка больше этого размера сжимается
const DefaultCompressThreshold = 1024

// MaxDecodedPayload - предел распакованной полезной нагрузки
const MaxDecodedPayload = 16 << 20

var (
	// ErrClosed - шина закрыта
	ErrClosed = errors.New("eventbus: closed")
	// ErrWrongEventType - событие не того типа
	ErrWrongEventType = errors.New("eventbus: unexpected event type")
	// ErrPayloadTooLarge - распакованная нагрузка больше MaxDecodedPayload
	ErrPayloadTooLarge = errors.New("eventbus: decoded payload too large")
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedPayload))
	})
	return zstdEnc, zstdDec, zstdErr
}

// EncodePayload сжимает данные zstd, если они длиннее threshold.
// threshold <= 0 отключает сжатие. Возвращает данные и значение encoding ("" если без сжатия).
func EncodePayload(data []byte, threshold int) ([]byte, string, error) {
	if threshold <= 0 || len(data) <= threshold {
		return data, "", nil
	}
	enc, _, err := codecs()
	if err != nil {
		return nil, "", fmt.Errorf("ошибка инициализации zstd: %w", err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), EncodingZstd, nil
}

// DecodePayload возвращает распакованную полезную нагрузку события.
func DecodePayload(ev *Envelope) ([]byte, error) {
	switch enc := ev.Metadata[MetaEncoding]; enc {
	case "":
		return ev.Payload, nil
	case EncodingZstd:
		_, dec, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации zstd: %w", err)
		}
		out, err := dec.DecodeAll(ev.Payload, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || len(out) > MaxDecodedPayload {
			return nil, fmt.Errorf("%w: событие %s", ErrPayloadTooLarge, ev.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка распаковки события %s: %w", ev.ID, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("неизвестная кодировка события %s: %q", ev.ID, enc)
	}
}

// NewVolumeUpdateEvent упаковывает сообщение обновления объёма в Envelope.
func NewVolumeUpdateEvent(msg *protocol.VolumeUpdateMessage, threshold int) (*Envelope, error) {
	payload, enc, err := EncodePayload(protocol.Marshal(msg), threshold)
	if err != nil {
		return nil, err
	}
	ev := &Envelope{
		ID:        msg.ID().String(),
		Timestamp: msg.Timestamp(),
		Source:    msg.Source().String(),
		EventType: EventTypeVolumeUpdate,
		Version:   1,
		Priority:  HighPriority,
		Payload:   payload,
		Metadata:  map[string]string{},
	}
	if enc != "" {
		ev.Metadata[MetaEncoding] = enc
	}
	return ev, nil
}

// DecodeVolumeUpdate извлекает сообщение обновления объёма из Envelope.
func DecodeVolumeUpdate(ev *Envelope) (*protocol.VolumeUpdateMessage, error) {
	if ev.EventType != EventTypeVolumeUpdate {
		return nil, fmt.Errorf("%w: %s", ErrWrongEventType, ev.EventType)
	}
	data, err := DecodePayload(ev)
	if err != nil {
		return nil, err
	}
	return protocol.Unmarshal(data)
}

// NewTerrainResetEvent сообщает другим участникам о сбросе террейна.
func NewTerrainResetEvent(source uuid.UUID, resetCount uint64, resourceID string) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source.String(),
		EventType: EventTypeTerrainReset,
		Version:   1,
		Priority:  9,
		Metadata: map[string]string{
			MetaResetCount: strconv.FormatUint(resetCount, 10),
			MetaResourceID: resourceID,
		},
	}
}

// DecodeTerrainReset возвращает счётчик сбросов и ресурс из события сброса.
func DecodeTerrainReset(ev *Envelope) (uint64, string, error) {
	if ev.EventType != EventTypeTerrainReset {
		return 0, "", fmt.Errorf("%w: %s", ErrWrongEventType, ev.EventType)
	}
	n, err := strconv.ParseUint(ev.Metadata[MetaResetCount], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("ошибка разбора счётчика сбросов: %w", err)
	}
	return n, ev.Metadata[MetaResourceID], nil
}

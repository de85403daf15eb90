package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Сообщение кодируется в wire-формате protobuf:
//
//	message VolumeUpdate {
//	  bytes id = 1; bytes source = 2;
//	  repeated Parameter indices = 3; repeated Parameter values = 4;
//	  int64 timestamp_unix_nano = 5;
//	}
//	message Parameter {
//	  oneof v { Vec3 vec3 = 1; float f = 2; bool b = 3; uint32 half = 4; bool null = 5; }
//	}
//	message Vec3 { double x = 1; double y = 2; double z = 3; }
const (
	fieldID        protowire.Number = 1
	fieldSource    protowire.Number = 2
	fieldIndices   protowire.Number = 3
	fieldValues    protowire.Number = 4
	fieldTimestamp protowire.Number = 5

	paramVec3  protowire.Number = 1
	paramFloat protowire.Number = 2
	paramBool  protowire.Number = 3
	paramHalf  protowire.Number = 4
	paramNull  protowire.Number = 5
)

// Marshal кодирует сообщение
func Marshal(m *VolumeUpdateMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.id[:])
	b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
	b = protowire.AppendBytes(b, m.source[:])
	for _, p := range m.indices {
		b = protowire.AppendTag(b, fieldIndices, protowire.BytesType)
		b = protowire.AppendBytes(b, appendParameter(nil, p))
	}
	for _, p := range m.values {
		b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
		b = protowire.AppendBytes(b, appendParameter(nil, p))
	}
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.timestamp.UnixNano()))
	return b
}

func appendParameter(b []byte, p Parameter) []byte {
	switch p.kind {
	case ParamVec3:
		var v []byte
		for i := 0; i < 3; i++ {
			v = protowire.AppendTag(v, protowire.Number(i+1), protowire.Fixed64Type)
			v = protowire.AppendFixed64(v, math.Float64bits(p.v[i]))
		}
		b = protowire.AppendTag(b, paramVec3, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	case ParamFloat:
		b = protowire.AppendTag(b, paramFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(p.f))
	case ParamBool:
		b = protowire.AppendTag(b, paramBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(p.b))
	case ParamHalf:
		b = protowire.AppendTag(b, paramHalf, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.h))
	default:
		b = protowire.AppendTag(b, paramNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// Unmarshal разбирает сообщение. Неизвестные поля пропускаются.
func Unmarshal(data []byte) (*VolumeUpdateMessage, error) {
	var (
		id, source      uuid.UUID
		indices, values []Parameter
		ts              int64
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: тег: %v", ErrBadMessage, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case (num == fieldID || num == fieldSource) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: поле %d: %v", ErrBadMessage, num, protowire.ParseError(n))
			}
			u, err := uuid.FromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: поле %d: %v", ErrBadMessage, num, err)
			}
			if num == fieldID {
				id = u
			} else {
				source = u
			}
			data = data[n:]
		case (num == fieldIndices || num == fieldValues) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: поле %d: %v", ErrBadMessage, num, protowire.ParseError(n))
			}
			p, err := parseParameter(raw)
			if err != nil {
				return nil, err
			}
			if num == fieldIndices {
				indices = append(indices, p)
			} else {
				values = append(values, p)
			}
			data = data[n:]
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: время: %v", ErrBadMessage, protowire.ParseError(n))
			}
			ts = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: поле %d: %v", ErrBadMessage, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	m, err := newMessage(id, source, time.Unix(0, ts).UTC(), indices, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return m, nil
}

func parseParameter(data []byte) (Parameter, error) {
	p := Null()
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("%w: параметр: %v", ErrBadMessage, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == paramVec3 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return p, fmt.Errorf("%w: vec3: %v", ErrBadMessage, protowire.ParseError(n))
			}
			v, err := parseVec3(raw)
			if err != nil {
				return p, err
			}
			p = Vec3(v)
			data = data[n:]
		case num == paramFloat && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return p, fmt.Errorf("%w: float: %v", ErrBadMessage, protowire.ParseError(n))
			}
			p = Float(math.Float32frombits(v))
			data = data[n:]
		case (num == paramBool || num == paramHalf || num == paramNull) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, fmt.Errorf("%w: varint: %v", ErrBadMessage, protowire.ParseError(n))
			}
			switch num {
			case paramBool:
				p = Bool(protowire.DecodeBool(v))
			case paramHalf:
				if v > math.MaxUint16 {
					return p, fmt.Errorf("%w: half %d", ErrBadMessage, v)
				}
				p = Half(uint16(v))
			default:
				p = Null()
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return p, fmt.Errorf("%w: параметр, поле %d: %v", ErrBadMessage, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return p, nil
}

func parseVec3(data []byte) (mgl64.Vec3, error) {
	var v mgl64.Vec3
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return v, fmt.Errorf("%w: vec3: %v", ErrBadMessage, protowire.ParseError(n))
		}
		data = data[n:]
		if num >= 1 && num <= 3 && typ == protowire.Fixed64Type {
			bits, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return v, fmt.Errorf("%w: vec3: %v", ErrBadMessage, protowire.ParseError(n))
			}
			v[num-1] = math.Float64frombits(bits)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return v, fmt.Errorf("%w: vec3: %v", ErrBadMessage, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return v, nil
}

package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ParamKind - тип значения параметра сообщения
type ParamKind uint8

const (
	ParamNull ParamKind = iota
	ParamVec3
	ParamFloat
	ParamBool
	ParamHalf
)

func (k ParamKind) String() string {
	switch k {
	case ParamNull:
		return "null"
	case ParamVec3:
		return "vec3"
	case ParamFloat:
		return "float"
	case ParamBool:
		return "bool"
	case ParamHalf:
		return "half"
	default:
		return fmt.Sprintf("param(%d)", uint8(k))
	}
}

// Parameter - значение произвольного типа из сообщения обновления.
// Индексы передаются как Vec3, значения - как Float, Bool, Half или Null.
type Parameter struct {
	kind ParamKind
	v    mgl64.Vec3
	f    float32
	b    bool
	h    uint16
}

// Null - пустой параметр; в значениях означает "выключить воксель"
func Null() Parameter { return Parameter{} }

// Vec3 создаёт параметр-вектор
func Vec3(v mgl64.Vec3) Parameter { return Parameter{kind: ParamVec3, v: v} }

// Float создаёт скалярный параметр
func Float(f float32) Parameter { return Parameter{kind: ParamFloat, f: f} }

// Bool создаёт логический параметр
func Bool(b bool) Parameter { return Parameter{kind: ParamBool, b: b} }

// Half создаёт параметр с числом половинной точности (сырые биты binary16)
func Half(bits uint16) Parameter { return Parameter{kind: ParamHalf, h: bits} }

// Kind возвращает тип параметра
func (p Parameter) Kind() ParamKind { return p.kind }

// IsNull true для пустого параметра
func (p Parameter) IsNull() bool { return p.kind == ParamNull }

// AsVec3 возвращает вектор, если параметр этого типа
func (p Parameter) AsVec3() (mgl64.Vec3, bool) { return p.v, p.kind == ParamVec3 }

// AsFloat возвращает скаляр, если параметр этого типа
func (p Parameter) AsFloat() (float32, bool) { return p.f, p.kind == ParamFloat }

// AsBool возвращает логическое значение, если параметр этого типа
func (p Parameter) AsBool() (bool, bool) { return p.b, p.kind == ParamBool }

// AsHalf возвращает сырые биты binary16, если параметр этого типа
func (p Parameter) AsHalf() (uint16, bool) { return p.h, p.kind == ParamHalf }

func (p Parameter) String() string {
	switch p.kind {
	case ParamVec3:
		return fmt.Sprintf("(%g, %g, %g)", p.v[0], p.v[1], p.v[2])
	case ParamFloat:
		return fmt.Sprintf("%g", p.f)
	case ParamBool:
		return fmt.Sprintf("%t", p.b)
	case ParamHalf:
		return fmt.Sprintf("half(%g)", HalfToFloat32(p.h))
	default:
		return "null"
	}
}

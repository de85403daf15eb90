package volume

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/klauspost/compress/zstd"
)

// Формат .vxdb:
//
//	"VXDB" | version u16 | zstd( gridCount u32 | grid... )
//	grid: name | kind u8 | background | offset 3xf64 | voxelSize f64 |
//	      leafCount u32 | leaf...
//	leaf: origin 3xi32 | mask 8xu64 | значения активных вокселей по порядку битов
const (
	codecMagic   = "VXDB"
	codecVersion = uint16(1)
	maxNameLen   = 1 << 10
)

// ErrBadDatabase - повреждённый или чужой файл базы
var ErrBadDatabase = errors.New("volume: malformed voxel database")

// Encode записывает хранилище в w
func Encode(w io.Writer, s *Store) error {
	if _, err := w.Write([]byte(codecMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, codecVersion); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("ошибка создания zstd: %w", err)
	}
	bw := bufio.NewWriter(zw)

	if err := binary.Write(bw, binary.LittleEndian, uint32(s.Len())); err != nil {
		return err
	}
	for _, g := range s.grids {
		if err := encodeGrid(bw, g); err != nil {
			zw.Close()
			return fmt.Errorf("грид %q: %w", g.Name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// EncodeBytes - удобная обёртка над Encode
func EncodeBytes(s *Store) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeGrid(w io.Writer, g *Grid) error {
	if len(g.Name) > maxNameLen {
		return fmt.Errorf("слишком длинное имя (%d)", len(g.Name))
	}
	le := binary.LittleEndian
	fields := []interface{}{
		uint16(len(g.Name)), []byte(g.Name), uint8(g.kind),
	}
	if g.kind == KindBool {
		fields = append(fields, boolByte(g.bools.background))
	} else {
		fields = append(fields, g.floats.background)
	}
	fields = append(fields,
		g.Transform.Offset[0], g.Transform.Offset[1], g.Transform.Offset[2],
		g.Transform.VoxelSize,
	)
	for _, f := range fields {
		if err := binary.Write(w, le, f); err != nil {
			return err
		}
	}

	if g.kind == KindBool {
		return encodeLeaves(w, g.bools, func(v bool) interface{} { return boolByte(v) })
	}
	return encodeLeaves(w, g.floats, func(v float32) interface{} { return v })
}

func encodeLeaves[T voxelType](w io.Writer, t *tree[T], conv func(T) interface{}) error {
	le := binary.LittleEndian
	leaves := t.sortedLeaves()
	if err := binary.Write(w, le, uint32(len(leaves))); err != nil {
		return err
	}
	for _, l := range leaves {
		origin := [3]int32{int32(l.origin.X), int32(l.origin.Y), int32(l.origin.Z)}
		if err := binary.Write(w, le, origin); err != nil {
			return err
		}
		if err := binary.Write(w, le, l.mask); err != nil {
			return err
		}
		var werr error
		l.forEachOn(func(_ vec.Vec3, v T) {
			if werr == nil {
				werr = binary.Write(w, le, conv(v))
			}
		})
		if werr != nil {
			return werr
		}
	}
	return nil
}

// Decode читает хранилище из r
func Decode(r io.Reader) (*Store, error) {
	header := make([]byte, len(codecMagic)+2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: заголовок: %v", ErrBadDatabase, err)
	}
	if string(header[:4]) != codecMagic {
		return nil, fmt.Errorf("%w: неверная сигнатура %q", ErrBadDatabase, header[:4])
	}
	if v := binary.LittleEndian.Uint16(header[4:]); v != codecVersion {
		return nil, fmt.Errorf("%w: версия %d не поддерживается", ErrBadDatabase, v)
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrBadDatabase, err)
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: число гридов: %v", ErrBadDatabase, err)
	}

	store := NewStore(nil)
	for i := uint32(0); i < count; i++ {
		g, err := decodeGrid(br)
		if err != nil {
			return nil, fmt.Errorf("%w: грид %d: %v", ErrBadDatabase, i, err)
		}
		store.Add(g)
	}
	return store, nil
}

func decodeGrid(r io.Reader) (*Grid, error) {
	le := binary.LittleEndian

	var nameLen uint16
	if err := binary.Read(r, le, &nameLen); err != nil {
		return nil, err
	}
	if int(nameLen) > maxNameLen {
		return nil, fmt.Errorf("имя длиной %d", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, err
	}

	var kind uint8
	if err := binary.Read(r, le, &kind); err != nil {
		return nil, err
	}

	var (
		boolBG  uint8
		floatBG float32
	)
	switch ValueKind(kind) {
	case KindBool:
		if err := binary.Read(r, le, &boolBG); err != nil {
			return nil, err
		}
	case KindFloat:
		if err := binary.Read(r, le, &floatBG); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("неизвестный тип значений %d", kind)
	}

	var xf [4]float64
	if err := binary.Read(r, le, &xf); err != nil {
		return nil, err
	}
	transform := Transform{Offset: mgl64.Vec3{xf[0], xf[1], xf[2]}, VoxelSize: xf[3]}
	if !(transform.VoxelSize > 0) || math.IsInf(transform.VoxelSize, 0) {
		return nil, fmt.Errorf("размер вокселя %v", transform.VoxelSize)
	}

	if ValueKind(kind) == KindBool {
		g := NewBoolGrid(string(name), boolBG != 0, transform)
		err := decodeLeaves(r, g.bools, func(r io.Reader) (bool, error) {
			var b uint8
			err := binary.Read(r, le, &b)
			return b != 0, err
		})
		return g, err
	}

	g := NewFloatGrid(string(name), floatBG, transform)
	err := decodeLeaves(r, g.floats, func(r io.Reader) (float32, error) {
		var f float32
		err := binary.Read(r, le, &f)
		return f, err
	})
	return g, err
}

func decodeLeaves[T voxelType](r io.Reader, t *tree[T], read func(io.Reader) (T, error)) error {
	le := binary.LittleEndian

	var count uint32
	if err := binary.Read(r, le, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var origin [3]int32
		if err := binary.Read(r, le, &origin); err != nil {
			return err
		}
		o := vec.Vec3{X: int(origin[0]), Y: int(origin[1]), Z: int(origin[2])}
		if leafOrigin(o) != o {
			return fmt.Errorf("лист %v не выровнен", o)
		}

		var mask [leafWords]uint64
		if err := binary.Read(r, le, &mask); err != nil {
			return err
		}
		for off := 0; off < leafSize; off++ {
			if mask[off>>6]&(1<<(uint(off)&63)) == 0 {
				continue
			}
			v, err := read(r)
			if err != nil {
				return err
			}
			t.setOn(o.Add(offsetToLocal(off)), v)
		}
	}
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

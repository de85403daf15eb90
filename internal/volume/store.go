package volume

import (
	"fmt"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// Store владеет одним или несколькими гридами. Обновления и запросы
// без явного индекса адресуют грид 0.
// Хранилище однописательское: менять его может только поток тика.
type Store struct {
	grids []*Grid
	log   logging.Interface
}

// NewStore создаёт хранилище из готовых гридов
func NewStore(log logging.Interface, grids ...*Grid) *Store {
	return &Store{grids: grids, log: logging.OrNop(log)}
}

// SetLogger заменяет логгер (например, после загрузки)
func (s *Store) SetLogger(log logging.Interface) {
	s.log = logging.OrNop(log)
}

// Len - число гридов
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.grids)
}

// Grids возвращает копию списка гридов
func (s *Store) Grids() []*Grid {
	out := make([]*Grid, len(s.grids))
	copy(out, s.grids)
	return out
}

// Add добавляет грид в конец
func (s *Store) Add(g *Grid) {
	s.grids = append(s.grids, g)
}

// Get возвращает грид по индексу
func (s *Store) Get(i int) (*Grid, bool) {
	if s == nil || i < 0 || i >= len(s.grids) {
		return nil, false
	}
	return s.grids[i], true
}

// Primary - грид 0 или nil
func (s *Store) Primary() *Grid {
	g, _ := s.Get(0)
	return g
}

// Read читает из грида 0
func (s *Store) Read(c vec.Vec3) Value {
	return s.ReadAt(0, c)
}

// ReadAt читает из грида i. Неверный индекс даёт пустое значение и DEBUG-лог.
func (s *Store) ReadAt(i int, c vec.Vec3) Value {
	g, ok := s.Get(i)
	if !ok {
		s.log.Debugf("%v: read grid %d", ErrInvalidGridIndex, i)
		return Value{}
	}
	return g.Read(c)
}

// Write пишет в грид 0
func (s *Store) Write(c vec.Vec3, v Value) {
	s.WriteAt(0, c, v)
}

// WriteAt пишет в грид i. Ошибки типа и индекса не фатальны: логируются.
func (s *Store) WriteAt(i int, c vec.Vec3, v Value) {
	g, ok := s.Get(i)
	if !ok {
		s.log.Warnf("%v: write grid %d at %v ignored", ErrInvalidGridIndex, i, c)
		return
	}
	if err := g.Write(c, v); err != nil {
		s.log.Warnf("Запись с неверным типом, записан фон: %v", err)
	}
}

// QueryRegion сообщает, есть ли данные грида i в мировом боксе
func (s *Store) QueryRegion(i int, b vec.AABB) bool {
	g, ok := s.Get(i)
	if !ok {
		return false
	}
	return g.HasDataIn(b)
}

// IntersectRegion возвращает подмножество грида i внутри бокса
func (s *Store) IntersectRegion(i int, b vec.AABB) *Grid {
	g, ok := s.Get(i)
	if !ok {
		return nil
	}
	return g.Intersect(b)
}

// Extent - объединение мировых границ всех гридов
func (s *Store) Extent() vec.AABB {
	ext := vec.EmptyAABB()
	if s == nil {
		return ext
	}
	for _, g := range s.grids {
		ext = ext.Union(g.WorldBounds())
	}
	return ext
}

// String для логов
func (s *Store) String() string {
	if s == nil {
		return "Store(nil)"
	}
	return fmt.Sprintf("Store(grids=%d)", len(s.grids))
}

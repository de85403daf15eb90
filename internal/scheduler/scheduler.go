package scheduler

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/partition"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultForceAfterSkippedTicks - после стольких пропущенных подряд тиков
// следующий тик обновляет хотя бы одну ячейку
const DefaultForceAfterSkippedTicks = 2

// Policy - ограничения на число ячеек за тик
type Policy struct {
	MaxCellsPerFrame int
	MinCellsPerFrame int
	// Сколько тиков подряд можно пропустить до принудительного обновления.
	// nil - DefaultForceAfterSkippedTicks, 0 - форсировать уже второй
	// отстающий тик подряд.
	ForceAfterSkippedTicks *int
}

// forceAfter - порог пропусков с учётом значения по умолчанию
func (p Policy) forceAfter() int {
	if p.ForceAfterSkippedTicks == nil || *p.ForceAfterSkippedTicks < 0 {
		return DefaultForceAfterSkippedTicks
	}
	return *p.ForceAfterSkippedTicks
}

// Options - где выполняется перегенерация
type Options struct {
	Background bool // Батч уходит в пул воркеров; тик ждёт его завершения
	Workers    int  // Размер пула; 0 - runtime.NumCPU()
}

// Decision - решение планировщика на один тик
type Decision struct {
	Count       int     // Сколько ячеек перегенерировать
	LagFraction float64 // Отставание в долях тика, [0,1]
	Forced      bool    // Отставание больше тика, но обновление принудительное
	Skipped     bool    // Тик пропущен из-за отставания
}

// CellFunc перегенерирует одну ячейку
type CellFunc func(ctx context.Context, c *partition.Cell) error

// Scheduler решает, сколько грязных ячеек обновлять за тик,
// и выполняет батч встроенно или в пуле воркеров.
type Scheduler struct {
	policy  Policy
	opts    Options
	pool    pond.Pool
	log     logging.Interface
	metrics *Metrics

	skipped    int
	forceAfter int
}

// New создаёт планировщик. metrics может быть nil.
func New(policy Policy, opts Options, log logging.Interface, metrics *Metrics) *Scheduler {
	s := &Scheduler{
		policy:     policy,
		opts:       opts,
		log:        logging.OrNop(log),
		metrics:    metrics,
		forceAfter: policy.forceAfter(),
	}
	if opts.Background {
		workers := opts.Workers
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		s.pool = pond.NewPool(workers)
	}
	return s
}

// Policy возвращает текущую политику
func (s *Scheduler) Policy() Policy { return s.policy }

// SetPolicy меняет ограничения (параметры актора могут меняться на ходу)
func (s *Scheduler) SetPolicy(p Policy) {
	s.policy = p
	s.forceAfter = p.forceAfter()
}

// SkippedTicks - число пропущенных подряд тиков
func (s *Scheduler) SkippedTicks() int { return s.skipped }

// Plan решает, сколько ячеек обновить в этом тике.
// lag - насколько время симуляции тика отстаёт от "правильного", tick - номинальная длительность тика.
// При tick <= 0 отставание не учитывается и обновляется максимум ячеек.
func (s *Scheduler) Plan(lag, tick time.Duration) Decision {
	d := s.plan(lag, tick)
	s.metrics.observePlan(d)
	return d
}

func (s *Scheduler) plan(lag, tick time.Duration) Decision {
	maxCells, minCells := s.policy.MaxCellsPerFrame, s.policy.MinCellsPerFrame
	if maxCells < 0 {
		maxCells = 0
	}
	if minCells < 0 {
		minCells = 0
	}

	// Без регулирования
	if minCells >= maxCells {
		s.skipped = 0
		return Decision{Count: maxCells}
	}

	// Без номинального тика отставание не измерить: считаем, что его нет
	if tick <= 0 {
		s.skipped = 0
		return Decision{Count: maxCells}
	}
	if lag < 0 {
		lag = 0
	}
	if lag < tick {
		frac := float64(lag) / float64(tick)
		n := int(math.Ceil((1-frac)*float64(maxCells) - 1e-9))
		if n < minCells {
			n = minCells
		}
		if n > maxCells {
			n = maxCells
		}
		s.skipped = 0
		return Decision{Count: n, LagFraction: frac}
	}

	// Отстаём больше чем на тик
	if minCells > 0 || s.skipped > s.forceAfter {
		n := minCells
		if n < 1 {
			n = 1
		}
		s.skipped = 0
		return Decision{Count: n, LagFraction: 1, Forced: true}
	}

	s.skipped++
	return Decision{LagFraction: 1, Skipped: true}
}

// Run перегенерирует батч и возвращается только после обработки всех ячеек.
// Отмена ctx проверяется только до начала батча.
func (s *Scheduler) Run(ctx context.Context, cells []*partition.Cell, fn CellFunc) error {
	if len(cells) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := otel.Tracer("voxel-terrain/scheduler").Start(ctx, "scheduler.Batch")
	span.SetAttributes(
		attribute.Int("cells", len(cells)),
		attribute.Bool("background", s.pool != nil),
	)
	defer span.End()

	start := time.Now()
	var err error
	if s.pool == nil {
		err = s.runInline(ctx, cells, fn)
	} else {
		err = s.runPooled(ctx, cells, fn)
	}
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.observeBatch(len(cells), elapsed)
	s.log.Tracef("Батч из %d ячеек за %v", len(cells), elapsed)
	return err
}

func (s *Scheduler) runInline(ctx context.Context, cells []*partition.Cell, fn CellFunc) error {
	var errs []error
	for _, c := range cells {
		if err := fn(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) runPooled(ctx context.Context, cells []*partition.Cell, fn CellFunc) error {
	// Ошибка одной ячейки не должна снимать с батча остальные
	var (
		mu   sync.Mutex
		errs []error
	)
	group := s.pool.NewGroup()
	for _, c := range cells {
		c := c
		group.Submit(func() {
			if err := fn(ctx, c); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	if err := group.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close останавливает пул воркеров, дожидаясь текущих задач
func (s *Scheduler) Close() {
	if s.pool != nil {
		s.pool.StopAndWait()
		s.pool = nil
	}
}

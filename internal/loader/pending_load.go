package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/resource"
	"github.com/annel0/voxel-terrain/internal/volume"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrLoadInProgress - загрузку можно начать только из состояния Idle
	ErrLoadInProgress = errors.New("loader: load already in progress")
	// ErrNotComplete - результат ещё не готов
	ErrNotComplete = errors.New("loader: load not complete")
	// ErrDiscarded - ожидаемая загрузка была отброшена
	ErrDiscarded = errors.New("loader: load discarded")
)

// State состояние отложенной загрузки
type State int32

const (
	Idle State = iota
	Loading
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PendingLoad - одна асинхронная загрузка базы вокселей.
// Результат передаётся владельцу через Take ровно один раз.
type PendingLoad struct {
	resolver resource.Resolver
	log      logging.Interface
	metrics  *Metrics

	mu         sync.Mutex
	state      State
	id         string
	generation uint64
	done       chan struct{}
	cancel     context.CancelFunc
	store      *volume.Store
	err        error
	started    time.Time
}

// New создаёт загрузчик. metrics может быть nil.
func New(resolver resource.Resolver, log logging.Interface, metrics *Metrics) *PendingLoad {
	return &PendingLoad{
		resolver: resolver,
		log:      logging.OrNop(log),
		metrics:  metrics,
	}
}

// State возвращает текущее состояние
func (p *PendingLoad) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ResourceID возвращает идентификатор последней запрошенной базы
func (p *PendingLoad) ResourceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// StartLoad запускает загрузку в отдельной горутине
func (p *PendingLoad) StartLoad(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle {
		return fmt.Errorf("%w: состояние %s", ErrLoadInProgress, p.state)
	}

	loadCtx, cancel := context.WithCancel(ctx)
	p.generation++
	p.state = Loading
	p.id = id
	p.done = make(chan struct{})
	p.cancel = cancel
	p.store = nil
	p.err = nil
	p.started = time.Now()

	go p.run(loadCtx, p.generation, id, p.done)

	p.log.Debugf("Загрузка %s начата", id)
	return nil
}

func (p *PendingLoad) run(ctx context.Context, gen uint64, id string, done chan struct{}) {
	ctx, span := otel.Tracer("voxel-terrain/loader").Start(ctx, "loader.Load")
	span.SetAttributes(attribute.String("resource.id", id))
	defer span.End()

	store, err := Load(ctx, p.resolver, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != gen {
		// Загрузка отброшена, результат никому не нужен
		p.log.Debugf("Результат отброшенной загрузки %s проигнорирован", id)
		p.metrics.observe("discarded", 0)
		return
	}

	elapsed := time.Since(p.started)
	if err != nil {
		p.state = Failed
		p.err = err
		p.log.Errorf("Не удалось загрузить %s: %v", id, err)
		p.metrics.observe("failed", elapsed)
	} else {
		store.SetLogger(p.log)
		p.state = Complete
		p.store = store
		p.log.Infof("База %s загружена за %v (%s)", id, elapsed.Round(time.Millisecond), store)
		p.metrics.observe("complete", elapsed)
	}
	p.cancel()
	close(done)
}

// IsComplete - неблокирующий опрос: true в состояниях Complete и Failed
func (p *PendingLoad) IsComplete() bool {
	s := p.State()
	return s == Complete || s == Failed
}

// WaitUntilComplete блокирует до завершения загрузки или отмены ctx.
// Возвращает ошибку загрузки для состояния Failed.
func (p *PendingLoad) WaitUntilComplete(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return ErrNotComplete
	}
	done, gen := p.done, p.generation
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != gen {
		return ErrDiscarded
	}
	if p.state == Failed {
		return p.err
	}
	return nil
}

// Take передаёт хранилище вызывающему и возвращает загрузчик в Idle.
// Для Failed возвращается ошибка загрузки.
func (p *PendingLoad) Take() (*volume.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Complete:
		store := p.store
		p.store = nil
		p.state = Idle
		return store, nil
	case Failed:
		err := p.err
		p.err = nil
		p.state = Idle
		return nil, err
	default:
		return nil, fmt.Errorf("%w: состояние %s", ErrNotComplete, p.state)
	}
}

// Discard отказывается от текущей загрузки. Незавершённая загрузка
// продолжает работу, но её результат будет проигнорирован.
func (p *PendingLoad) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Loading {
		p.cancel()
		close(p.done)
		p.log.Debugf("Загрузка %s отброшена", p.id)
	}
	p.generation++
	p.state = Idle
	p.store = nil
	p.err = nil
}

// Reset возвращает загрузчик в Idle, отбрасывая неполученный результат.
// Во время загрузки не допускается.
func (p *PendingLoad) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Loading {
		return ErrLoadInProgress
	}
	p.state = Idle
	p.store = nil
	p.err = nil
	return nil
}

// Load синхронно читает и декодирует базу
func Load(ctx context.Context, r resource.Resolver, id string) (*volume.Store, error) {
	rc, err := r.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы %s: %w", id, err)
	}
	defer rc.Close()

	store, err := volume.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения базы %s: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return store, nil
}

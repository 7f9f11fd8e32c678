// Package scheduler запускает именованные периодические задачи плагинов
// (cron-выражения и "@every <duration>"). Два тика одной задачи никогда не
// выполняются одновременно.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job - одна итерация задачи. Ошибка логируется, следующий тик пробует снова.
type Job func(ctx context.Context) error

// ErrUnknownJob - RunNow по имени, которого нет.
var ErrUnknownJob = errors.New("unknown job")

type entry struct {
	name string
	spec string
	fn   Job
	id   cron.EntryID
	mu   sync.Mutex // один тик за раз
}

// Scheduler - обёртка над cron.Cron с контекстом для задач.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New создаёт планировщик; cron-выражения считаются в loc.
func New(loc *time.Location, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		log:    log,
		jobs:   map[string]*entry{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every - спецификация интервала для Add.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Validate проверяет cron-выражение без регистрации задачи.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add регистрирует задачу. Имена уникальны.
func (s *Scheduler) Add(name, spec string, fn Job) error {
	if err := Validate(spec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	e := &entry{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.tick(e) })
	if err != nil {
		return fmt.Errorf("add job %q: %w", name, err)
	}
	e.id = id
	s.jobs[name] = e
	s.log.Debug("Job registered", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

// Remove снимает задачу с расписания. Уже идущий тик доработает до конца.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	e, ok := s.jobs[name]
	delete(s.jobs, name)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	s.log.Debug("Job removed", zap.String("job", name))
	return true
}

// tick - запуск по расписанию: если прошлый тик ещё идёт, пропускаем.
func (s *Scheduler) tick(e *entry) {
	if !e.mu.TryLock() {
		s.log.Warn("Job still running, tick skipped", zap.String("job", e.name))
		return
	}
	defer e.mu.Unlock()
	s.run(s.ctx, e)
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	start := time.Now()
	err := e.fn(ctx)
	if err != nil {
		s.log.Error("Job failed", zap.String("job", e.name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return err
	}
	s.log.Debug("Job done", zap.String("job", e.name), zap.Duration("took", time.Since(start)))
	return nil
}

// RunNow выполняет задачу синхронно, дожидаясь идущего тика.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.run(ctx, e)
}

// Jobs - имена зарегистрированных задач по алфавиту.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start запускает cron. Задачи получают контекст, который отменяется в Stop
// или при отмене ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
	s.cron.Start()
	s.log.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop останавливает cron и ждёт завершения идущих задач.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if !wasRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// cronLogger пробрасывает логи robfig/cron в zap.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, zap.Any("details", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, zap.Error(err), zap.Any("details", kv))
}

package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/logstream"
)

// runState — run в памяти процесса.
//
// Run изменяет только горутина-владелец. Мьютекс нужен читателям:
// Get и List получают согласованную копию через snapshot.
type runState struct {
	mu  sync.Mutex
	run *domain.Run

	tpl    *domain.DeploymentTemplate
	waves  []engine.Wave
	stream *logstream.Stream

	// Отмену запрашивает Cancel, обрабатывает владелец и закрывает cancelAck.
	cancelled     atomic.Bool
	cancelOnce    sync.Once
	cancelCh      chan struct{}
	cancelBy      string
	cancelAck     chan struct{}
	cancelHandled bool

	// done закрывается, когда run дошёл до финального статуса.
	done chan struct{}

	// finishedAt — когда run завершился (для вытеснения).
	finishedAt atomic.Pointer[time.Time]
}

func newRunState(run *domain.Run, tpl *domain.DeploymentTemplate, waves []engine.Wave, stream *logstream.Stream) *runState {
	return &runState{
		run:       run,
		tpl:       tpl,
		waves:     waves,
		stream:    stream,
		cancelCh:  make(chan struct{}),
		cancelAck: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// update изменяет run под мьютексом.
func (s *runState) update(fn func(run *domain.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.run)
}

// snapshot возвращает глубокую копию run.
func (s *runState) snapshot() *domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Clone()
}

// status возвращает текущий статус run.
func (s *runState) status() domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Status
}

// appendLog добавляет строку в лог run и в поток.
func (s *runState) appendLog(line string) {
	s.mu.Lock()
	s.run.Log = append(s.run.Log, line)
	s.mu.Unlock()

	// Поток закрывается только после последней строки, ошибки здесь нет.
	_ = s.stream.Append(line)
}

// cancel запрашивает отмену. Возвращает false при повторном вызове.
func (s *runState) cancel(by string) bool {
	first := false
	s.cancelOnce.Do(func() {
		first = true
		s.mu.Lock()
		s.cancelBy = by
		s.mu.Unlock()
		s.cancelled.Store(true)
		close(s.cancelCh)
	})
	return first
}

func (s *runState) cancelledBy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelBy
}

func (s *runState) isCancelled() bool {
	return s.cancelled.Load()
}

// finished сообщает, завершился ли run, и когда.
func (s *runState) finished() (time.Time, bool) {
	at := s.finishedAt.Load()
	if at == nil {
		return time.Time{}, false
	}
	return *at, true
}

// task — вызов шага на одном хосте.
type task struct {
	step   *domain.Step
	target string
}

// eventKind — вид события от вызова.
type eventKind int

const (
	eventLine eventKind = iota
	eventStarted
	eventResult
	eventSkipped
)

// event — сообщение от вызова горутине-владельцу.
type event struct {
	kind   eventKind
	task   task
	line   string
	result *domain.StepResult
	err    error
}

// eventSink — канал событий run, в который безопасно писать после закрытия.
//
// Вызов, переживший таймаут, может прислать строку после того, как
// владелец перестал читать; такие события отбрасываются.
type eventSink struct {
	mu     sync.RWMutex
	closed bool
	ch     chan event
}

func newEventSink(size int) *eventSink {
	return &eventSink{ch: make(chan event, size)}
}

func (s *eventSink) send(ev event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.ch <- ev
	return true
}

// close закрывает канал. Вызывающий должен вычитывать ch до закрытия.
func (s *eventSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

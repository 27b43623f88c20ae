package logstream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// TimeFormat — формат метки времени в строках лога.
const TimeFormat = "15:04:05"

// Format добавляет к сообщению метку времени: "[HH:MM:SS] message".
func Format(at time.Time, message string) string {
	return "[" + at.Format(TimeFormat) + "] " + message
}

// Snapshot — согласованное состояние потока.
type Snapshot struct {
	Lines  []string         `json:"logs"`
	Status domain.RunStatus `json:"status"`
	Closed bool             `json:"completed"`
}

// Stream — лог и статус одного run.
//
// Безопасен для конкурентного использования.
type Stream struct {
	mu     sync.Mutex
	id     string
	lines  []string
	status domain.RunStatus
	closed bool

	// changed закрывается и заменяется при каждом изменении.
	changed chan struct{}

	countLines bool
	logger     *slog.Logger
}

// StreamConfig — конфигурация Stream.
type StreamConfig struct {
	// ID — идентификатор run (для логов).
	ID string

	// Status — начальный статус. По умолчанию: idle.
	Status domain.RunStatus

	// CountLines — учитывать строки в метрике rollout_log_lines_total.
	CountLines bool

	Logger *slog.Logger
}

// NewStream создаёт пустой поток.
func NewStream(cfg StreamConfig) *Stream {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	status := cfg.Status
	if status == "" {
		status = domain.RunStatusIdle
	}

	return &Stream{
		id:         cfg.ID,
		status:     status,
		changed:    make(chan struct{}),
		countLines: cfg.CountLines,
		logger:     logger,
	}
}

// Append добавляет строки (push-источник).
// После финального статуса возвращает ErrStreamClosed.
func (s *Stream) Append(lines ...string) error {
	if len(lines) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	s.lines = append(s.lines, lines...)
	if s.countLines {
		telemetry.LogLinesTotal.Add(float64(len(lines)))
	}
	s.notifyLocked()
	return nil
}

// ApplySnapshot объединяет полный снимок из pull-источника.
//
// Из текущей последовательности и снимка остаётся более длинная.
// Статус из снимка применяется, только если он не раньше текущего.
// Если общая часть расходится, пишется предупреждение о рассогласовании,
// но run это не затрагивает. Повторное применение того же снимка
// ничего не меняет. Возвращает число строк, на которое вырос лог.
func (s *Stream) ApplySnapshot(lines []string, status domain.RunStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	overlap := min(len(lines), len(s.lines))
	if i := firstMismatch(s.lines[:overlap], lines[:overlap]); i >= 0 {
		s.logger.Warn("log snapshot diverges from current log",
			"run_id", s.id,
			"index", i,
			"current_len", len(s.lines),
			"snapshot_len", len(lines),
		)
	}

	grown := 0
	if len(lines) > len(s.lines) {
		grown = len(lines) - len(s.lines)
		s.lines = append(make([]string, 0, len(lines)), lines...)
		if s.countLines {
			telemetry.LogLinesTotal.Add(float64(grown))
		}
	}

	changed := grown > 0
	// Устаревший снимок не откатывает статус назад (running → loading).
	if status != "" && status != s.status && status.Rank() >= s.status.Rank() {
		s.setStatusLocked(status)
		changed = true
	}
	if changed {
		s.notifyLocked()
	}
	return grown
}

// SetStatus обновляет статус. Финальный статус закрывает поток.
func (s *Stream) SetStatus(status domain.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || status == s.status {
		return
	}
	s.setStatusLocked(status)
	s.notifyLocked()
}

func (s *Stream) setStatusLocked(status domain.RunStatus) {
	s.status = status
	if status.IsTerminal() {
		s.closed = true
	}
}

// notifyLocked будит всех, кто ждёт на Changed.
func (s *Stream) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Snapshot возвращает копию текущего состояния.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Lines:  append([]string(nil), s.lines...),
		Status: s.status,
		Closed: s.closed,
	}
}

// Since возвращает строки начиная с cursor, новый cursor и статус.
//
// Cursor — число уже прочитанных строк. Возвращаемый канал закроется
// при следующем изменении потока; если поток закрыт, канал nil.
func (s *Stream) Since(cursor int) ([]string, int, domain.RunStatus, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(s.lines) {
		// Cursor мог прийти от клиента (Last-Event-ID) после рестарта.
		cursor = len(s.lines)
	}

	lines := append([]string(nil), s.lines[cursor:]...)

	var wait <-chan struct{}
	if !s.closed {
		wait = s.changed
	}
	return lines, len(s.lines), s.status, wait
}

// Len возвращает количество строк.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Status возвращает текущий статус.
func (s *Stream) Status() domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Closed возвращает true после финального статуса.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// firstMismatch возвращает индекс первого расхождения или -1.
func firstMismatch(a, b []string) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

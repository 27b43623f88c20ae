package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Run — один запуск шаблона развёртывания.
//
// Run создаётся когда:
// - Пользователь отправляет шаблон через API/CLI
// - Scheduler запускает сохранённый шаблон по расписанию
// - Из очереди deploy.requests приходит запрос
//
// Каждая отправка создаёт новый run, завершённые run не перезапускаются.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// TemplateName — имя сохранённого шаблона (пусто для inline-шаблона).
	TemplateName string `json:"template_name,omitempty"`

	// FTNumber — идентификатор FT из шаблона.
	FTNumber string `json:"ft_number"`

	// InitiatedBy — кто запустил развёртывание.
	InitiatedBy string `json:"initiated_by"`

	// Status — текущий статус.
	Status RunStatus `json:"status"`

	// Waves — разрешённые волны (order шагов).
	Waves [][]int `json:"waves,omitempty"`

	// Results — результаты: order шага → target → результат.
	Results map[int]map[string]*StepResult `json:"results,omitempty"`

	// Log — упорядоченный лог run (заполняется в снимках).
	Log []string `json:"log,omitempty"`

	// Error — причина FAILED: какой шаг и хост упали и почему.
	Error string `json:"error,omitempty"`

	// StartedAt — время запуска первой волны.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// LogComplete — лог дописан до итоговых строк. Status может стать
	// failed раньше, пока волна ещё доигрывает.
	LogComplete bool `json:"log_complete,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе IDLE.
func NewRun(ftNumber, templateName, initiatedBy string) *Run {
	return &Run{
		ID:           uuid.New(),
		TemplateName: templateName,
		FTNumber:     ftNumber,
		InitiatedBy:  initiatedBy,
		Status:       RunStatusIdle,
		Results:      make(map[int]map[string]*StepResult),
		CreatedAt:    time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Для незавершённого run считается до текущего момента.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.FinishedAt == nil {
		return time.Since(*r.StartedAt)
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// LogStatus возвращает статус для читателей лога.
//
// Пока лог не дописан, финальный статус не отдаётся: читатель,
// увидевший его, закрыл бы поток без итоговых строк.
func (r *Run) LogStatus() RunStatus {
	if r.Status.IsTerminal() && !r.LogComplete {
		return RunStatusRunning
	}
	return r.Status
}

// MarkLoading переводит run в статус LOADING.
func (r *Run) MarkLoading() {
	r.Status = RunStatusLoading
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSuccess переводит run в статус SUCCESS.
func (r *Run) MarkSuccess() {
	if r.IsFinished() {
		return
	}
	now := time.Now()
	r.Status = RunStatusSuccess
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с причиной.
// Повторный вызов не меняет первую причину.
func (r *Run) MarkFailed(reason string) {
	if r.IsFinished() {
		return
	}
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = reason
}

// SetResult сохраняет результат вызова.
func (r *Run) SetResult(res *StepResult) {
	if r.Results == nil {
		r.Results = make(map[int]map[string]*StepResult)
	}
	byTarget, ok := r.Results[res.Order]
	if !ok {
		byTarget = make(map[string]*StepResult)
		r.Results[res.Order] = byTarget
	}
	byTarget[res.Target] = res
}

// Result возвращает результат шага на хосте.
func (r *Run) Result(order int, target string) (*StepResult, bool) {
	res, ok := r.Results[order][target]
	return res, ok
}

// ResultList возвращает результаты, отсортированные по order и target.
func (r *Run) ResultList() []StepResult {
	list := make([]StepResult, 0)
	for _, byTarget := range r.Results {
		for _, res := range byTarget {
			list = append(list, *res)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].Target < list[j].Target
	})
	return list
}

// Clone возвращает глубокую копию run для читателей.
func (r *Run) Clone() *Run {
	c := *r
	if r.Waves != nil {
		c.Waves = make([][]int, len(r.Waves))
		for i, w := range r.Waves {
			c.Waves[i] = append([]int(nil), w...)
		}
	}
	c.Results = make(map[int]map[string]*StepResult, len(r.Results))
	for order, byTarget := range r.Results {
		m := make(map[string]*StepResult, len(byTarget))
		for target, res := range byTarget {
			cp := *res
			m[target] = &cp
		}
		c.Results[order] = m
	}
	if r.Log != nil {
		c.Log = append([]string(nil), r.Log...)
	}
	return &c
}

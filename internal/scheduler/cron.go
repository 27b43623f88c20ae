package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Rollout/internal/domain"
)

// cronParser — стандартные 5 полей плюс дескрипторы (@daily, @every 1h).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Ошибки валидации расписаний.
var (
	ErrNoTrigger       = errors.New("schedule has neither cron_expr nor interval_sec")
	ErrInvalidCron     = errors.New("invalid cron expression")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidInterval = errors.New("interval_sec must be positive")
	ErrNoTemplate      = errors.New("schedule has no template_name")
)

// CalculateNextDue вычисляет следующее время выполнения для schedule.
// Для интервалов просто добавляет IntervalSec к from.
//
// Учитывает timezone schedule. Результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := loadLocation(sched.Timezone)
	if err != nil {
		// Fallback на UTC, если timezone невалидный
		loc = time.UTC
	}

	fromInTz := from.In(loc)

	if sched.IsCron() {
		return calculateNextCron(sched.CronExpr, fromInTz)
	}
	if sched.IsInterval() {
		return calculateNextInterval(sched.IntervalSec, fromInTz), nil
	}
	return time.Time{}, ErrNoTrigger
}

func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidCron, cronExpr, err)
	}
	return schedule.Next(from).UTC(), nil
}

func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	return from.Add(time.Duration(intervalSec) * time.Second).UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, cronExpr, err)
	}
	return nil
}

// Validate проверяет schedule перед сохранением.
func Validate(sched *domain.Schedule) error {
	if sched.TemplateName == "" {
		return ErrNoTemplate
	}
	if _, err := loadLocation(sched.Timezone); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidTimezone, sched.Timezone)
	}

	switch {
	case sched.CronExpr != "":
		return ValidateCronExpr(sched.CronExpr)
	case sched.IntervalSec < 0:
		return ErrInvalidInterval
	case sched.IntervalSec > 0:
		return nil
	default:
		return ErrNoTrigger
	}
}

// IsValidationError проверяет, что ошибка вызвана содержимым schedule.
func IsValidationError(err error) bool {
	for _, target := range []error{ErrNoTrigger, ErrInvalidCron, ErrInvalidTimezone, ErrInvalidInterval, ErrNoTemplate} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// CalculateInitialNextDue вычисляет первое время выполнения для нового schedule.
// Используется при создании schedule через API.
func CalculateInitialNextDue(sched *domain.Schedule) (time.Time, error) {
	return CalculateNextDue(sched, time.Now())
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Package executor выполняет шаги шаблона на целевых хостах.
//
// Executor — граница между координатором и удалёнными системами:
// по типу шага выбирает Runner из Registry, ограничивает вызов
// таймаутом и возвращает domain.StepResult. Конкретные Runner'ы
// (ssh, sql, ansible, helm) живут в пакете backend.
//
// Один вызов — один шаг на одном хосте. Внутренних повторов нет.
package executor

// Package engine содержит модель разбора шаблонов и разрешение графа.
//
// Включает:
//   - parser.go   — разбор DeploymentTemplate из JSON/YAML, Plan
//   - validate.go — валидация шаблона и параметров шагов
//   - dag.go      — построение графа и раскладка по волнам (алгоритм Кана)
//
// Engine отвечает за понимание структуры шаблона и определение
// порядка выполнения шагов на основе их зависимостей. Сам он
// ничего не выполняет.
package engine

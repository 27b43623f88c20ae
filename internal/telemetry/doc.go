// Package telemetry — логи и метрики сервера развёртываний.
//
//   - logging.go — slog-логгер из настроек log.level и log.format,
//     логгеры с run_id и шагом, логгер запроса в контексте
//   - metrics.go — счётчики run, вызовов шагов, строк лога и HTTP-запросов
//
// Метрики отдаются на /metrics обоих серверов.
package telemetry

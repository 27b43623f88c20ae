// Package mq связывает сервисы Rollout через RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением (cenkalti/backoff)
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — события run и запросы на деплой
//   - consumer.go   — потребление deploy.requests
//
// Exchanges:
//   - rollout.events   (topic)  — run.<status>, step.finished; для внешних подписчиков
//   - rollout.requests (direct) — deploy: запросы планировщика на запуск шаблона
//   - rollout.dlq      (direct) — сообщения, которые не удалось обработать
//
// Сервер работает и без RabbitMQ: publisher может быть nil.
package mq

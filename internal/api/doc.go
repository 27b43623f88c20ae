// Package api предоставляет REST API для Rollout.
//
// Endpoints:
//
// Templates:
//   - GET    /api/v1/templates                   — список сохранённых шаблонов
//   - POST   /api/v1/templates/plan              — волны шаблона без запуска
//   - GET    /api/v1/templates/{name}            — получить шаблон
//   - PUT    /api/v1/templates/{name}            — сохранить шаблон (upsert)
//   - DELETE /api/v1/templates/{name}            — удалить шаблон
//   - POST   /api/v1/templates/{name}/deployments — запустить сохранённый шаблон
//
// Deployments:
//   - POST /api/v1/deployments             — запустить шаблон из тела запроса
//   - GET  /api/v1/deployments             — список run
//   - GET  /api/v1/deployments/{id}        — run с результатами
//   - POST /api/v1/deployments/{id}/cancel — отменить run
//   - GET  /api/v1/deployments/{id}/logs   — лог (pull, или SSE при Accept: text/event-stream)
//   - GET  /api/v1/deployments/{id}/events — лог через SSE
//
// Inventory:
//   - GET /api/v1/inventory/vms
//   - GET /api/v1/inventory/db-connections
//   - GET /api/v1/inventory/playbooks
//   - GET /api/v1/inventory/helm-releases
//   - GET /api/v1/inventory/db-users
//   - GET /api/v1/inventory/services
//
// FT files (files.root):
//   - GET /api/v1/fts                — список FT (?type=sql — только с SQL-файлами)
//   - GET /api/v1/fts/{ft}/files     — файлы FT (?type=sql — только *.sql)
//
// Schedules:
//   - GET    /api/v1/schedules              — список расписаний
//   - POST   /api/v1/schedules              — создать расписание
//   - GET    /api/v1/schedules/{id}         — получить расписание
//   - PUT    /api/v1/schedules/{id}         — обновить расписание
//   - DELETE /api/v1/schedules/{id}         — удалить расписание
//   - PUT    /api/v1/schedules/{id}/enabled — включить/выключить
//
// Инициатор запуска и отмены берётся из заголовка X-Rollout-User.
package api

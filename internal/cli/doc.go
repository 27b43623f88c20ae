// Package cli реализует инструмент командной строки Rollout.
//
// # Обзор
//
// CLI — клиентская утилита для Rollout API. Работает через HTTP (resty)
// и не импортирует internal/api: типы ответов продублированы в client.go.
// Из внутренних пакетов используется только logstream, чтобы сливать
// SSE и опрос в один лог.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Разбирает DataResponse, ListResponse и
// ErrorResponse. Ответ с ошибкой возвращается как *APIError, сетевой
// сбой как *TransportError.
//
//	client := cli.NewClient("http://localhost:8080", "alice")
//	runs, err := client.ListDeployments(ctx, 20)
//
// ## Follow
//
// Client.Follow печатает лог run до финального статуса. Сначала читается
// SSE (/events); при TransportError клиент переходит на опрос /logs с
// экспоненциальной задержкой (backoff/v4). Строки из обоих источников
// проходят через logstream.Stream и печатаются ровно один раз.
//
// ## Output
//
// Форматирование вывода:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - YAML (yaml.v3) — для шаблонов в template show
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: rollout deploy list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - template: list, show, save, delete, plan
//   - deploy: submit, list, show, cancel, logs
//   - schedule: list, create, delete, enable, disable
//
// Каждая группа создаётся через фабричную функцию (NewTemplateCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli

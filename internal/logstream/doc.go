// Package logstream сводит лог и статус run из двух источников.
//
// Push-источник (события от исполнителя, SSE) добавляет строки по одной,
// pull-источник (опрос) присылает полный снимок. Stream хранит одну
// монотонно растущую последовательность и объединяет снимки по правилу
// "длиннее побеждает", поэтому повторный снимок ничего не меняет,
// а строки не дублируются и не теряются.
//
// Финальный статус (success/failed) закрывает поток: ожидающие читатели
// освобождаются, новые строки отклоняются.
//
// Hub держит потоки по run id на сервере. CLI использует Stream
// напрямую, чтобы объединять SSE и опрос при обрыве соединения.
package logstream

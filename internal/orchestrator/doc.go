// Package orchestrator координирует выполнение run.
//
// Orchestrator принимает шаблон, синхронно валидирует его и разрешает
// граф зависимостей, регистрирует run и отдаёт его горутине-владельцу.
// Владелец выполняет волны по очереди: все (шаг, хост) волны уходят в
// ограниченный пул, следующая волна начинается только после того, как
// все вызовы текущей завершились. Любой упавший обязательный шаг
// переводит run в failed, следующие волны не запускаются.
//
// Завершённые run остаются в памяти на время retention, затем
// вытесняются; их снимки читаются из хранилища.
package orchestrator

// Package backend реализует runner'ы шагов поверх реальных систем.
//
// Транспорт к хостам — SSH (golang.org/x/crypto/ssh) с circuit breaker
// на каждый хост. Поверх него работают runner'ы копирования файлов,
// управления systemd-сервисами и helm. SQL-шаги подключаются к PostgreSQL
// через pgx, при необходимости через SSH-туннель. Ansible запускается
// локально со временным инвентарём.
//
// Все runner'ы реализуют executor.Runner и регистрируются в
// executor.Registry функцией Register.
package backend

// Package inventory загружает описание целевого окружения.
//
// Два файла:
//   - inventory (vms, playbooks, helm_upgrades, systemd_services) — хосты и их ресурсы
//   - db inventory (db_connections, db_users) — подключения к базам
//
// Оба читаются через yaml.v3, поэтому подходят и JSON, и YAML.
package inventory

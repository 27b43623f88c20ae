package api

import "net/http"

// ListVMs возвращает хосты из инвентаря.
// GET /api/v1/inventory/vms
func (h *Handler) ListVMs(w http.ResponseWriter, r *http.Request) {
	vms := h.inventory.VMs()
	List(w, vms, len(vms))
}

// ListDBConnections возвращает подключения к базам данных.
// GET /api/v1/inventory/db-connections
func (h *Handler) ListDBConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.inventory.DBConnections()
	List(w, conns, len(conns))
}

// ListPlaybooks возвращает доступные ansible playbook.
// GET /api/v1/inventory/playbooks
func (h *Handler) ListPlaybooks(w http.ResponseWriter, r *http.Request) {
	playbooks := h.inventory.Playbooks()
	List(w, playbooks, len(playbooks))
}

// ListHelmReleases возвращает доступные helm-релизы.
// GET /api/v1/inventory/helm-releases
func (h *Handler) ListHelmReleases(w http.ResponseWriter, r *http.Request) {
	releases := h.inventory.HelmReleases()
	List(w, releases, len(releases))
}

// ListDBUsers возвращает пользователей БД для шагов sql_deployment.
// GET /api/v1/inventory/db-users
func (h *Handler) ListDBUsers(w http.ResponseWriter, r *http.Request) {
	users := h.inventory.DBUsers()
	List(w, users, len(users))
}

// ListServices возвращает systemd-сервисы.
// GET /api/v1/inventory/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.inventory.Services()
	List(w, services, len(services))
}

package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Metrics(),
	)

	// Templates
	mux.Handle("GET /api/v1/templates", chain(http.HandlerFunc(h.ListTemplates)))
	mux.Handle("POST /api/v1/templates/plan", chain(http.HandlerFunc(h.PlanTemplate)))
	mux.Handle("GET /api/v1/templates/{name}", chain(http.HandlerFunc(h.GetTemplate)))
	mux.Handle("PUT /api/v1/templates/{name}", chain(http.HandlerFunc(h.SaveTemplate)))
	mux.Handle("DELETE /api/v1/templates/{name}", chain(http.HandlerFunc(h.DeleteTemplate)))
	mux.Handle("POST /api/v1/templates/{name}/deployments", chain(http.HandlerFunc(h.DeployTemplate)))

	// Deployments
	mux.Handle("GET /api/v1/deployments", chain(http.HandlerFunc(h.ListDeployments)))
	mux.Handle("POST /api/v1/deployments", chain(http.HandlerFunc(h.CreateDeployment)))
	mux.Handle("GET /api/v1/deployments/{id}", chain(http.HandlerFunc(h.GetDeployment)))
	mux.Handle("POST /api/v1/deployments/{id}/cancel", chain(http.HandlerFunc(h.CancelDeployment)))
	mux.Handle("GET /api/v1/deployments/{id}/logs", chain(http.HandlerFunc(h.GetDeploymentLogs)))
	mux.Handle("GET /api/v1/deployments/{id}/events", chain(http.HandlerFunc(h.StreamDeploymentEvents)))

	// Inventory
	mux.Handle("GET /api/v1/inventory/vms", chain(http.HandlerFunc(h.ListVMs)))
	mux.Handle("GET /api/v1/inventory/db-connections", chain(http.HandlerFunc(h.ListDBConnections)))
	mux.Handle("GET /api/v1/inventory/playbooks", chain(http.HandlerFunc(h.ListPlaybooks)))
	mux.Handle("GET /api/v1/inventory/helm-releases", chain(http.HandlerFunc(h.ListHelmReleases)))
	mux.Handle("GET /api/v1/inventory/db-users", chain(http.HandlerFunc(h.ListDBUsers)))
	mux.Handle("GET /api/v1/inventory/services", chain(http.HandlerFunc(h.ListServices)))

	// FT files
	mux.Handle("GET /api/v1/fts", chain(http.HandlerFunc(h.ListFTs)))
	mux.Handle("GET /api/v1/fts/{ft}/files", chain(http.HandlerFunc(h.ListFTFiles)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}

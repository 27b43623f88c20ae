package api

import (
	"errors"
	"net/http"

	"github.com/shaiso/Rollout/internal/catalog"
)

// ListFTs возвращает FT из files.root.
// GET /api/v1/fts?type=sql
func (h *Handler) ListFTs(w http.ResponseWriter, r *http.Request) {
	filter, err := catalog.ParseFilter(r.URL.Query().Get("type"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	fts, err := h.catalog.FTs(filter)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	List(w, fts, len(fts))
}

// ListFTFiles возвращает файлы FT.
// GET /api/v1/fts/{ft}/files?type=sql
func (h *Handler) ListFTFiles(w http.ResponseWriter, r *http.Request) {
	filter, err := catalog.ParseFilter(r.URL.Query().Get("type"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	files, err := h.catalog.Files(r.PathValue("ft"), filter)
	if errors.Is(err, catalog.ErrInvalidFT) {
		BadRequest(w, err.Error())
		return
	}
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	List(w, files, len(files))
}

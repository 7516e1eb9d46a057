// Package router holds the HTTP handlers of the zonal statistics API.
package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/zonalstats/internal/composer"
	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/export"
	mylog "github.com/mohammed-shakir/zonalstats/internal/logger"
	"github.com/mohammed-shakir/zonalstats/internal/query"
	"github.com/mohammed-shakir/zonalstats/internal/registry"
	"github.com/mohammed-shakir/zonalstats/internal/zonal"
)

const (
	multipartMemory = 32 << 20
	maxQueryBody    = 4 << 20
)

type API struct {
	logger    *slog.Logger
	reg       *registry.Store
	svc       *query.Service
	maxUpload int64
}

func New(logger *slog.Logger, reg *registry.Store, svc *query.Service, maxUpload int64) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{logger: logger, reg: reg, svc: svc, maxUpload: maxUpload}
}

type errorBody struct {
	Error     string `json:"error"`
	CurrentID string `json:"current_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	var stale *model.StaleError
	var tooBig *http.MaxBytesError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &tooBig):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &stale):
		status = http.StatusConflict
		body.CurrentID = stale.CurrentID
	case errors.Is(err, model.ErrStale):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, body)
}

type statusResponse struct {
	OK           bool     `json:"ok"`
	ExactExtract bool     `json:"exactextract"`
	Exact        bool     `json:"exact"`
	Strategy     string   `json:"strategy"`
	Strategies   []string `json:"strategies"`
	Rasters      int      `json:"rasters"`
}

func (a *API) Status(w http.ResponseWriter, _ *http.Request) {
	sel := a.svc.Selector()
	writeJSON(w, http.StatusOK, statusResponse{
		OK:           true,
		ExactExtract: sel.ExactAvailable(),
		Exact:        sel.Default().Exact(),
		Strategy:     sel.Default().Name(),
		Strategies:   zonal.Strategies(),
		Rasters:      a.reg.Len(),
	})
}

func (a *API) Upload(w http.ResponseWriter, r *http.Request) {
	if a.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.writeError(w, r, err)
			return
		}
		a.writeError(w, r, model.Invalidf("parse upload: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, r, model.Invalidf("no file provided"))
		return
	}
	defer func() { _ = f.Close() }()
	if hdr.Filename == "" {
		a.writeError(w, r, model.Invalidf("empty filename"))
		return
	}
	if hdr.Size == 0 {
		a.writeError(w, r, model.Invalidf("empty file"))
		return
	}

	info, err := a.reg.Load(r.Context(), hdr.Filename, f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.InfoContext(r.Context(), "raster uploaded",
		"raster_id", info.ID, "version", info.Version, "filename", info.Filename,
		"crs", info.CRS, "bytes", hdr.Size)
	writeJSON(w, http.StatusOK, info)
}

func (a *API) ListRasters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rasters": a.reg.List()})
}

func (a *API) GetRaster(w http.ResponseWriter, r *http.Request) {
	info, err := a.reg.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) Unload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.reg.Remove(id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.InfoContext(r.Context(), "raster unloaded", "raster_id", id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Query serves POST /api/query/{kind}.
func (a *API) Query(w http.ResponseWriter, r *http.Request) {
	kind := model.QueryKind(chi.URLParam(r, "kind"))
	q, err := decodeQuery(http.MaxBytesReader(w, r.Body, maxQueryBody), kind)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ctx := mylog.WithQuery(mylog.WithRasterID(r.Context(), q.RasterID), string(kind))
	resp, err := a.svc.Run(ctx, q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := composer.Compose(composer.Request{
		Response:     resp,
		AcceptHeader: r.Header.Get("Accept"),
		OutputFormat: r.URL.Query().Get("f"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("X-Cache", string(out.HitClass))
	w.WriteHeader(out.StatusCode)
	_, _ = w.Write(out.Body)
}

type exportRequest struct {
	Results []model.Result `json:"results"`
}

func (a *API) decodeExport(w http.ResponseWriter, r *http.Request) ([]model.Result, bool) {
	var req exportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		a.writeError(w, r, model.Invalidf("decode body: %v", err))
		return nil, false
	}
	return req.Results, true
}

func (a *API) ExportCSV(w http.ResponseWriter, r *http.Request) {
	results, ok := a.decodeExport(w, r)
	if !ok {
		return
	}
	s, err := export.CSVString(results)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csv": s})
}

func (a *API) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	results, ok := a.decodeExport(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.XLSX(&buf, results); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="zonal-results.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}

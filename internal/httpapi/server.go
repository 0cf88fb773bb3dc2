// Package httpapi exposes inventory commands and queries over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory/command"
	"github.com/codewandler/inventory-es/internal/inventory/readmodel"
)

const maxBodyBytes = 1 << 20

type (
	Dispatcher interface {
		Dispatch(ctx context.Context, cmd command.Command) (command.Result, error)
	}

	Queries interface {
		GetByID(ctx context.Context, id string) (readmodel.ItemView, error)
	}
)

type (
	body struct {
		Code    string `json:"code"`
		Message string `json:"message,omitempty"`
		Data    any    `json:"data,omitempty"`
	}

	createRequest struct {
		SKU string `json:"sku"`
	}

	stockRequest struct {
		Quantity         *int64 `json:"quantity"`
		ExpectedRevision *int64 `json:"expectedRevision"`
	}

	deactivateRequest struct {
		ExpectedRevision *int64 `json:"expectedRevision"`
	}
)

type API struct {
	log      *slog.Logger
	commands Dispatcher
	queries  Queries
}

func New(log *slog.Logger, commands Dispatcher, queries Queries) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{log: log.With(slog.String("component", "http")), commands: commands, queries: queries}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, a.accessLog, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/inventory-items", func(r chi.Router) {
		r.Post("/", a.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.get)
			r.Post("/add-stock", a.addStock)
			r.Post("/decrease-stock", a.decreaseStock)
			r.Post("/deactivate", a.deactivate)
		})
	})
	return r
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	a.dispatch(w, r, command.Create{SKU: req.SKU}, "inventory item created")
}

func (a *API) addStock(w http.ResponseWriter, r *http.Request) {
	id, req, err := a.stockRequest(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.dispatch(w, r, command.AddStock{
		ID:               id,
		Quantity:         *req.Quantity,
		ExpectedRevision: es.Version(*req.ExpectedRevision),
	}, "stock added")
}

func (a *API) decreaseStock(w http.ResponseWriter, r *http.Request) {
	id, req, err := a.stockRequest(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.dispatch(w, r, command.DecreaseStock{
		ID:               id,
		Quantity:         *req.Quantity,
		ExpectedRevision: es.Version(*req.ExpectedRevision),
	}, "stock decreased")
}

func (a *API) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req deactivateRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.ExpectedRevision == nil {
		a.fail(w, r, fmt.Errorf("%w: expectedRevision is required", errBadRequest))
		return
	}
	a.dispatch(w, r, command.Deactivate{
		ID:               id,
		ExpectedRevision: es.Version(*req.ExpectedRevision),
	}, "inventory item deactivated")
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	view, err := a.queries.GetByID(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body{Code: CodeOK, Data: view})
}

func (a *API) stockRequest(w http.ResponseWriter, r *http.Request) (string, stockRequest, error) {
	id, err := itemID(r)
	if err != nil {
		return "", stockRequest{}, err
	}
	var req stockRequest
	if err := decode(w, r, &req); err != nil {
		return "", stockRequest{}, err
	}
	switch {
	case req.Quantity == nil:
		return "", stockRequest{}, fmt.Errorf("%w: quantity is required", errBadRequest)
	case req.ExpectedRevision == nil:
		return "", stockRequest{}, fmt.Errorf("%w: expectedRevision is required", errBadRequest)
	}
	return id, req, nil
}

// dispatch answers 202: the command is committed to the log, the read side
// catches up asynchronously.
func (a *API) dispatch(w http.ResponseWriter, r *http.Request, cmd command.Command, message string) {
	res, err := a.commands.Dispatch(r.Context(), cmd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, body{Code: CodeOK, Message: message, Data: res})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, eb := classify(err)
	if status >= http.StatusInternalServerError {
		a.log.Error(
			"request_failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, eb)
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info(
			"http_request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func itemID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: invalid item id %q", errBadRequest, id)
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: invalid json", errBadRequest)
	}
	if dec.More() {
		return fmt.Errorf("%w: invalid json", errBadRequest)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

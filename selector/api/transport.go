package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/flotilla-dev/flotilla/pkg/errors"
	"github.com/flotilla-dev/flotilla/pkg/pool"
	"github.com/flotilla-dev/flotilla/selector"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
)

const (
	defOffset = 0
	defLimit  = 100
)

func MakeHandler(svc selector.Service) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeError),
	}

	mux := chi.NewRouter()

	mux.Route("/pool", func(r chi.Router) {
		r.Post("/acquire", kithttp.NewServer(
			makeAcquireEndpoint(svc),
			decodeAcquireRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
		r.Post("/release", kithttp.NewServer(
			makeReleaseEndpoint(svc),
			decodeReleaseRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
		r.Get("/stats", kithttp.NewServer(
			makeStatsEndpoint(svc),
			decodeEmptyRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
	})

	mux.Route("/workers", func(r chi.Router) {
		r.Get("/", kithttp.NewServer(
			makeListWorkersEndpoint(svc),
			decodeListWorkersRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
		r.Get("/{worker_id}", kithttp.NewServer(
			makeGetWorkerEndpoint(svc),
			decodeGetWorkerRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
	})

	return mux
}

func decodeAcquireRequest(_ context.Context, r *http.Request) (interface{}, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil, errUnsupportedContentType
	}

	var req acquireRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}

	return req, nil
}

func decodeReleaseRequest(_ context.Context, r *http.Request) (interface{}, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil, errUnsupportedContentType
	}

	var req releaseRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}

	return req, nil
}

func decodeEmptyRequest(_ context.Context, _ *http.Request) (interface{}, error) {
	return nil, nil
}

func decodeListWorkersRequest(_ context.Context, r *http.Request) (interface{}, error) {
	req := listWorkersRequestDTO{Offset: defOffset, Limit: defLimit}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, err
		}
		req.Offset = offset
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, err
		}
		req.Limit = limit
	}

	return req, nil
}

func decodeGetWorkerRequest(_ context.Context, r *http.Request) (interface{}, error) {
	workerID := chi.URLParam(r, "worker_id")
	if workerID == "" {
		return nil, errors.New("worker_id is required")
	}

	return getWorkerRequestDTO{WorkerID: workerID}, nil
}

func encodeJSONResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")

	return json.NewEncoder(w).Encode(response)
}

var errUnsupportedContentType = errors.New("unsupported content type")

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidRequest), errors.Is(err, errUnsupportedContentType):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, pool.ErrWorkerNotFound), errors.Is(err, pkgerrors.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Package httpapi exposes the dispatcher's four host-protocol verbs as a
// chi-routed JSON HTTP surface (SPEC_FULL.md [DISPATCHER] "supplemented with
// two external surfaces"). Every handler translates its request body 1:1
// into a Dispatcher call; no business logic is duplicated here.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/dispatcher"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/resolver"
)

// NewRouter builds the chi router serving POST /v1/{search,load,execute,sign}
// over the given Dispatcher.
func NewRouter(d *dispatcher.Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", searchHandler(d))
		r.Post("/load", loadHandler(d))
		r.Post("/execute", executeHandler(d))
		r.Post("/sign", signHandler(d))
	})
	return r
}

type searchBody struct {
	Query string               `json:"query"`
	Scope string               `json:"scope"`
	Space *artifact.Space      `json:"space,omitempty"`
	Page  resolverPaginationIn `json:"page,omitempty"`
}

type resolverPaginationIn struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func searchHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body searchBody
		if !decode(w, req, &body) {
			return
		}
		results, err := d.Search(req.Context(), dispatcher.SearchRequest{
			Query: body.Query, Scope: body.Scope, Space: body.Space,
			Page: resolver.Pagination{Offset: body.Page.Offset, Limit: body.Page.Limit},
		})
		writeResult(w, results, err)
	}
}

type loadBody struct {
	Kind        artifact.Kind   `json:"kind"`
	ID          string          `json:"id"`
	Space       *artifact.Space `json:"space,omitempty"`
	Destination *artifact.Space `json:"destination,omitempty"`
}

func loadHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body loadBody
		if !decode(w, req, &body) {
			return
		}
		res, err := d.Load(req.Context(), dispatcher.LoadRequest{
			Kind: body.Kind, ID: body.ID, Space: body.Space, Destination: body.Destination,
		})
		writeResult(w, res, err)
	}
}

type executeBody struct {
	Kind         artifact.Kind          `json:"kind"`
	ID           string                 `json:"id"`
	Space        *artifact.Space        `json:"space,omitempty"`
	Params       map[string]string      `json:"params,omitempty"`
	InstanceEnv  map[string]string      `json:"instance_env,omitempty"`
	DryRun       bool                   `json:"dry_run"`
	ParentThread string                 `json:"parent_thread,omitempty"`
	MaxSpend     int64                  `json:"max_spend,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Risk         orchestrator.RiskLevel `json:"risk,omitempty"`
	AckRisk      bool                   `json:"ack_risk,omitempty"`
}

func executeHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body executeBody
		if !decode(w, req, &body) {
			return
		}
		res, err := d.Execute(req.Context(), dispatcher.ExecuteRequest{
			Kind: body.Kind, ID: body.ID, Space: body.Space, Params: body.Params,
			InstanceEnv: body.InstanceEnv, DryRun: body.DryRun, ParentThread: body.ParentThread,
			MaxSpend: body.MaxSpend, Capabilities: body.Capabilities, Risk: body.Risk, AckRisk: body.AckRisk,
		})
		writeResult(w, res, err)
	}
}

type signBody struct {
	Kind  artifact.Kind  `json:"kind"`
	ID    string         `json:"id"`
	Space artifact.Space `json:"space"`
}

func signHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body signBody
		if !decode(w, req, &body) {
			return
		}
		res, err := d.Sign(req.Context(), dispatcher.SignRequest{Kind: body.Kind, ID: body.ID, Space: body.Space})
		writeResult(w, res, err)
	}
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeError(w, hosterr.Wrap(hosterr.ValidationError, err, "decoding request body"))
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps the host's error taxonomy (spec §7) onto HTTP status
// codes for the external surface.
func errorStatus(kind hosterr.Kind) int {
	switch kind {
	case hosterr.NotFound:
		return http.StatusNotFound
	case hosterr.ValidationError, hosterr.ChainError:
		return http.StatusBadRequest
	case hosterr.PermissionDenied, hosterr.RiskBlocked:
		return http.StatusForbidden
	case hosterr.LimitExceeded, hosterr.BudgetReservation:
		return http.StatusTooManyRequests
	case hosterr.Timeout:
		return http.StatusGatewayTimeout
	case hosterr.IntegrityError, hosterr.StaleLockfile:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := hosterr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errorStatus(kind))
	json.NewEncoder(w).Encode(map[string]string{"kind": string(kind), "error": err.Error()})
}

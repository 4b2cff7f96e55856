package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/mutation"
	"github.com/overhuman/kvstore/internal/viewer"
)

type route struct {
	method string
	path   string
}

type handlerFunc func(ctx context.Context, req *request) response

func (s *Server) routeTable() map[route]handlerFunc {
	return map[route]handlerFunc{
		{"GET", "/"}:            s.handleIndex,
		{"GET", "/data"}:        s.handleData,
		{"GET", "/health"}:      s.handleHealth,
		{"GET", "/favicon.ico"}: s.handleFavicon,
		{"GET", "/metrics"}:     s.handleMetrics,

		{"POST", "/api/records/upsert"}:      s.handleUpsert,
		{"POST", "/api/records/delete"}:      s.handleDelete,
		{"POST", "/api/records/tags/add"}:    s.handleTagAdd,
		{"POST", "/api/records/tags/remove"}: s.handleTagRemove,
		{"POST", "/api/records/ttl/extend"}:  s.handleTTLExtend,
		{"POST", "/api/tags/rename"}:         s.handleTagRename,
		{"POST", "/api/tags/delete"}:         s.handleTagDelete,
	}
}

func (s *Server) dispatch(ctx context.Context, req *request) response {
	h, ok := s.routes[route{req.method, req.path}]
	if !ok {
		return textResponse(http.StatusNotFound, "not found")
	}
	return h(ctx, req)
}

// routeLabel keeps metric labels bounded to known routes.
func (s *Server) routeLabel(method, path string) string {
	if _, ok := s.routes[route{method, path}]; ok {
		return method + " " + path
	}
	return "unmatched"
}

// Read handlers.

func (s *Server) handleIndex(ctx context.Context, _ *request) response {
	ix, err := s.mutator.Snapshot(ctx)
	if err != nil {
		return errorResponse(err)
	}
	page, err := viewer.Render(ix, viewer.Options{
		PollEndpoint: "/data",
		APIEndpoint:  "/api",
		Namespace:    s.cfg.Namespace,
	})
	if err != nil {
		return errorResponse(err)
	}
	return response{status: http.StatusOK, contentType: contentHTML, body: page}
}

func (s *Server) handleData(ctx context.Context, _ *request) response {
	ix, err := s.mutator.Snapshot(ctx)
	if err != nil {
		return errorResponse(err)
	}
	data, err := viewer.MarshalRecords(ix)
	if err != nil {
		return errorResponse(err)
	}
	return response{status: http.StatusOK, contentType: contentJSON, body: data}
}

func (s *Server) handleHealth(context.Context, *request) response {
	return textResponse(http.StatusOK, "ok")
}

func (s *Server) handleFavicon(context.Context, *request) response {
	return response{status: http.StatusNoContent, contentType: contentText}
}

func (s *Server) handleMetrics(context.Context, *request) response {
	data, err := json.Marshal(s.metrics.Report())
	if err != nil {
		return errorResponse(err)
	}
	return response{status: http.StatusOK, contentType: contentJSON, body: data}
}

// Mutation handlers.

type upsertPayload struct {
	Key        string   `json:"key"`
	Value      *string  `json:"value"`
	Tags       []string `json:"tags"`
	TTLMinutes *int64   `json:"ttl_minutes"`
}

type keyPayload struct {
	Key string `json:"key"`
}

type tagPayload struct {
	Key string `json:"key"`
	Tag string `json:"tag"`
}

type ttlPayload struct {
	Key        string `json:"key"`
	TTLMinutes *int64 `json:"ttl_minutes"`
}

type renamePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type tagOnlyPayload struct {
	Tag string `json:"tag"`
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return kverr.InvalidInput("invalid json body: %v", err)
	}
	return nil
}

func missingField(name string) error {
	return kverr.InvalidInput("invalid json body: missing field '%s'", name)
}

// confirm turns a mutator result into a response.
func confirm(msg string, err error) response {
	if err != nil {
		return errorResponse(err)
	}
	return textResponse(http.StatusOK, msg)
}

func (s *Server) handleUpsert(ctx context.Context, req *request) response {
	var p upsertPayload
	if err := decode(req.body, &p); err != nil {
		return errorResponse(err)
	}
	if p.Value == nil {
		return errorResponse(missingField("value"))
	}
	// The payload's tags always replace the stored set; absent means none.
	return confirm(s.mutator.Upsert(ctx, mutation.UpsertInput{
		Key:        p.Key,
		Value:      *p.Value,
		Tags:       &p.Tags,
		TTLMinutes: p.TTLMinutes,
	}))
}

func (s *Server) handleDelete(ctx context.Context, req *request) response {
	var p keyPayload
	if err := decode(req.body, &p); err != nil {
		return errorResponse(err)
	}
	return confirm(s.mutator.Delete(ctx, p.Key))
}

func (s *Server) handleTagAdd(ctx context.Context, req *request) response {
	var p tagPayload
	if err := decode(req.body, &p); err != nil {
		return errorResponse(err)
	}
	return confirm(s.mutator.AddTag(ctx, p.Key, p.Tag))
}

func (s *Server) handleTagRemove(ctx context.Context, req *request) response {
	var p tagPayload
	if err := decode(req.body, &p); err != nil {
		return errorResponse(err)
	}
	return confirm(s.mutator.RemoveTag(ctx, p.Key, p.Tag))
}

func (s *Server) handleTTLExtend(ctx context.Context, req *request) response {
	var p ttlPayload
	if err := decode(req.body, &p); err != nil {
		return errorResponse(err)
	}
	if p.TTLMinutes == nil {
		return errorResponse(missingField("ttl_minutes"))
	}
	return confirm(s.mutator.ExtendTTL(ctx, p.Key, *p.TTLMinutes))
}

func (s *Server) handleTagRename(ctx context.Context, req *request) response {
	var p renamePayload
	if err := decode(req.body, &p); err != nil {
		return errorResponse(err)
	}
	return confirm(s.mutator.RenameTag(ctx, p.From, p.To))
}

func (s *Server) handleTagDelete(ctx context.Context, req *request) response {
	var p tagOnlyPayload
	if err := decode(req.body, &p); err != nil {
		return errorResponse(err)
	}
	return confirm(s.mutator.DeleteTag(ctx, p.Tag))
}

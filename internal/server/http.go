package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ci-fuzz/vast/internal/query"
	"github.com/ci-fuzz/vast/pkg/types"
)

// HTTPServer exposes the engine over HTTP: /status for the status
// document and /query for streaming query results as NDJSON.
type HTTPServer struct {
	engine *Engine
	logger *slog.Logger
	server *http.Server
	addr   net.Addr
}

// NewHTTPServer builds the HTTP surface over an engine.
func NewHTTPServer(engine *Engine, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{engine: engine, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /query", s.handleQuery)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Listen binds the listen address and returns the bound endpoint.
func (s *HTTPServer) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.addr = ln.Addr()
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return s.addr.String(), nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	detailed := r.URL.Query().Get("detailed") == "true"
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.engine.Status(detailed)); err != nil {
		s.logger.Warn("writing status failed", "error", err)
	}
}

// handleQuery streams matches for ?expr=… as NDJSON objects, one event
// per line. The client deadline, when given as ?timeout=…, bounds the
// query.
func (s *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	input := r.URL.Query().Get("expr")
	if input == "" {
		http.Error(w, "missing expr parameter", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if t := r.URL.Query().Get("timeout"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	q, err := s.engine.Submit(ctx, input, query.Options{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer q.Cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for hit := range q.Hits {
		if err := enc.Encode(HitDocument(hit)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := q.Err(); err != nil {
		s.logger.Warn("query terminated with error", "query", q.ID, "error", err)
	}
}

// HitDocument renders a hit as a JSON-friendly document.
func HitDocument(hit query.Hit) map[string]interface{} {
	doc := map[string]interface{}{
		"type": hit.Layout.Name(),
		"id":   hit.ID,
	}
	fields := hit.Layout.QualifiedFields()
	event := make(map[string]interface{}, len(fields))
	for i, qf := range fields {
		if i >= len(hit.Row) {
			break
		}
		event[qf.FieldPath] = renderData(hit.Row[i])
	}
	doc["event"] = event
	return doc
}

func renderData(d types.Data) interface{} {
	switch x := d.(type) {
	case nil:
		return nil
	case types.BoolData:
		return bool(x)
	case types.IntegerData:
		return int64(x)
	case types.CountData:
		return uint64(x)
	case types.RealData:
		return float64(x)
	case types.StringData:
		return string(x)
	case types.EnumerationData:
		return string(x)
	case types.ListData:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = renderData(e)
		}
		return out
	default:
		return types.DataString(d)
	}
}

package web

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/akhenakh/loragw/forward"
	"github.com/akhenakh/loragw/rxpk"
	"github.com/akhenakh/loragw/storage"
)

const (
	defaultCount = 100

	// a PUSH_DATA datagram can't be bigger
	maxBodySize = 65535
)

type Server struct {
	appName string
	logger  log.Logger
	db      storage.Store
}

func NewServer(appName string, logger log.Logger, db storage.Store) *Server {
	logger = log.With(logger, "component", "web")
	return &Server{
		appName: appName,
		logger:  logger,
		db:      db,
	}
}

// Router returns the API routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/gateways", s.GatewaysQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/frames/{gateway}", s.FramesQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/frames/{gateway}/latest", s.LatestQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/rxpk/validate", s.Validate).Methods(http.MethodPost)
	return r
}

func (s *Server) startSpan(r *http.Request, operationName string) (context.Context, opentracing.Span) {
	wireContext, err := opentracing.GlobalTracer().Extract(
		opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(r.Header))
	if err != nil {
		level.Debug(s.logger).Log("msg", "can't find a span", "error", err)
	}

	serverSpan := opentracing.StartSpan(
		operationName,
		ext.RPCServerOption(wireContext))

	return opentracing.ContextWithSpan(r.Context(), serverSpan), serverSpan
}

func (s *Server) GatewaysQuery(w http.ResponseWriter, r *http.Request) {
	_, span := s.startSpan(r, "/api/gateways")
	defer span.Finish()

	keys, err := s.db.Keys()
	if err != nil {
		level.Error(s.logger).Log("msg", "can't query Keys", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []string{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"gateways": keys})
}

func (s *Server) FramesQuery(w http.ResponseWriter, r *http.Request) {
	_, span := s.startSpan(r, "/api/frames")
	defer span.Finish()

	vars := mux.Vars(r)

	count := defaultCount
	if c := r.URL.Query().Get("count"); c != "" {
		v, err := strconv.Atoi(c)
		if err != nil || v <= 0 {
			http.Error(w, "invalid count", http.StatusBadRequest)
			return
		}
		count = v
	}

	frames, err := s.db.GetAll(vars["gateway"], count)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't query GetAll", "gateway_id", vars["gateway"], "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := make([]forward.Message, len(frames))
	for i, f := range frames {
		res[i] = forward.NewMessage(f)
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) LatestQuery(w http.ResponseWriter, r *http.Request) {
	_, span := s.startSpan(r, "/api/frames/latest")
	defer span.Finish()

	vars := mux.Vars(r)

	f, err := s.db.Get(vars["gateway"])
	if err != nil {
		level.Error(s.logger).Log("msg", "can't query Get", "gateway_id", vars["gateway"], "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if f == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, forward.NewMessage(*f))
}

// Validate decodes the rxpk object in the body and returns its canonical encoding.
func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	_, span := s.startSpan(r, "/api/rxpk/validate")
	defer span.Finish()

	b, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	rec, err := rxpk.DecodeJSON(b)
	if err != nil {
		reason := rxpk.Reason(err)
		status := http.StatusUnprocessableEntity
		// not even a JSON object
		if reason == rxpk.ReasonUnknown {
			status = http.StatusBadRequest
		}
		ext.Error.Set(span, true)
		span.LogKV("reason", reason)
		s.writeJSON(w, status, map[string]string{
			"error":  err.Error(),
			"reason": reason,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't marshal json", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/renderinc/post-discovery/internal/discovery"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
	"github.com/renderinc/post-discovery/internal/trending"
)

// Posts reads single posts and records views
type Posts interface {
	Get(ctx context.Context, id string) (*post.Document, error)
	IncrementViews(ctx context.Context, id string) error
}

// Options configures the server
type Options struct {
	Backend         string
	QueryTimeout    time.Duration
	DefaultPageSize int
	MaxPageSize     int
	TrendingLimit   int
	Now             func() time.Time
}

type Server struct {
	searcher *discovery.Searcher
	trender  *discovery.Trender
	posts    Posts
	opts     Options
	log      logrus.FieldLogger
}

type ctxKey int

const requestIDKey ctxKey = iota

func NewServer(searcher *discovery.Searcher, trender *discovery.Trender, posts Posts, opts Options, log logrus.FieldLogger) *Server {
	if opts.TrendingLimit <= 0 {
		opts.TrendingLimit = trending.DefaultLimit
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = discovery.MaxPageSize
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = discovery.DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		searcher: searcher,
		trender:  trender,
		posts:    posts,
		opts:     opts,
		log:      log,
	}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.requestLogger)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/trending", s.handleTrending).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}", s.handleGetPost).Methods(http.MethodGet)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})

	return router
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	log := s.requestLog(r)

	filters, coercions := query.ParseFilters(values)

	limit, c := query.ParseInt(values, "limit", 0)
	coercions = appendCoercion(coercions, c)
	page, c := query.ParseInt(values, "page", 0)
	coercions = appendCoercion(coercions, c)
	offset, c := query.ParseInt(values, "offset", -1)
	coercions = appendCoercion(coercions, c)
	days, c := query.ParseInt(values, "days", 0)
	coercions = appendCoercion(coercions, c)

	// offset is an alternative to page; it is rounded down to a page boundary
	if values.Get("page") == "" && offset >= 0 {
		_, size := discovery.ClampPage(1, limit, s.opts.DefaultPageSize, s.opts.MaxPageSize)
		page = offset/size + 1
	}
	logCoercions(log, coercions)

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	res, err := s.searcher.Search(ctx, discovery.SearchRequest{
		Filters:  filters,
		Days:     discovery.ClampDays(days),
		Sort:     discovery.ParseSearchSort(values.Get("sortBy")),
		Page:     page,
		PageSize: limit,
	})
	if err != nil {
		s.respondQueryError(w, log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	log := s.requestLog(r)

	filters, coercions := query.ParseFilters(values)

	days, c := query.ParseInt(values, "days", 0)
	coercions = appendCoercion(coercions, c)
	limit, c := query.ParseInt(values, "limit", s.opts.TrendingLimit)
	coercions = appendCoercion(coercions, c)
	logCoercions(log, coercions)

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	res, err := s.trender.Trending(ctx, discovery.TrendingRequest{
		Filters: filters,
		Days:    discovery.ClampDays(days),
		Sort:    trending.ParseSort(values.Get("sortBy")),
		Limit:   limit,
	})
	if err != nil {
		s.respondQueryError(w, log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleGetPost returns a published post and counts the view
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log := s.requestLog(r).WithField("post_id", id)

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	doc, err := s.posts.Get(ctx, id)
	if err != nil {
		s.respondQueryError(w, log, err)
		return
	}
	if doc == nil || !doc.IsPublished(s.opts.Now()) {
		respondError(w, http.StatusNotFound, "post not found")
		return
	}

	if err := s.posts.IncrementViews(ctx, id); err != nil {
		// A failed view count does not fail the read
		log.WithError(err).Warn("increment views failed")
	} else {
		doc.Views++
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"backend": s.opts.Backend,
	})
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.QueryTimeout)
}

func (s *Server) respondQueryError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := statusFor(err)
	log.WithError(err).WithField("status", status).Error("request failed")
	respondError(w, status, http.StatusText(status))
}

// statusFor maps engine errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, discovery.ErrQueryFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// requestLogger tags each request with an id and logs its outcome
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		}).Info("request")
	})
}

func (s *Server) requestLog(r *http.Request) logrus.FieldLogger {
	id, _ := r.Context().Value(requestIDKey).(string)
	return s.log.WithField("request_id", id)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func appendCoercion(cs []query.Coercion, c *query.Coercion) []query.Coercion {
	if c == nil {
		return cs
	}
	return append(cs, *c)
}

func logCoercions(log logrus.FieldLogger, cs []query.Coercion) {
	for _, c := range cs {
		log.WithFields(logrus.Fields{
			"param": c.Param,
			"value": c.Value,
			"error": c.Err,
		}).Debug("ignoring invalid parameter")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

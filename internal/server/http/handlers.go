package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/resolver"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// searchParams are the query parameters of GET /papers/search.
type searchParams struct {
	Query string `json:"q" validate:"required,max=500"`
	Limit int    `json:"limit" validate:"min=0,max=100"`
	Year  string `json:"year" validate:"omitempty,max=9"`
}

// recentParams are the query parameters of GET /papers/recent.
type recentParams struct {
	Query string `json:"q" validate:"required,max=500"`
	Days  int    `json:"days" validate:"min=0,max=365"`
	Limit int    `json:"limit" validate:"min=0,max=100"`
}

// extractRequest is the JSON body of POST /candidates/extract.
type extractRequest struct {
	Text       string `json:"text" validate:"required,max=200000"`
	MaxResults int    `json:"max_results" validate:"min=0"`
}

// discoverRequest is the JSON body of POST /candidates/discover.
type discoverRequest struct {
	Topic      string `json:"topic" validate:"required,max=500"`
	MaxResults int    `json:"max_results" validate:"min=0"`
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// searchPapers handles GET /papers/search.
func (s *Server) searchPapers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := searchParams{
		Query: strings.TrimSpace(q.Get("q")),
		Year:  strings.TrimSpace(q.Get("year")),
	}
	var err error
	if params.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if !s.valid(w, params) {
		return
	}

	res, err := s.resolver.Search(r.Context(), resolver.SearchRequest{
		Query: params.Query,
		Limit: params.Limit,
		Year:  params.Year,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:    res.Query,
		Papers:   papersToResponse(res.Papers),
		Count:    len(res.Papers),
		CacheHit: res.CacheHit,
		Stale:    res.Stale,
		Reason:   res.Reason,
	})
}

// recentPapers handles GET /papers/recent.
func (s *Server) recentPapers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := recentParams{Query: strings.TrimSpace(q.Get("q"))}
	var err error
	if params.Days, err = intParam(q.Get("days")); err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	if params.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if !s.valid(w, params) {
		return
	}

	papers, err := s.resolver.Recent(r.Context(), resolver.RecentRequest{
		Query: params.Query,
		Days:  params.Days,
		Limit: params.Limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recentResponse{
		Query:  params.Query,
		Papers: papersToResponse(papers),
		Count:  len(papers),
	})
}

// extractCandidates handles POST /candidates/extract.
func (s *Server) extractCandidates(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !s.decodeBody(w, r, &req) || !s.valid(w, req) {
		return
	}

	res, err := s.resolver.ExtractCandidates(r.Context(), req.Text, req.MaxResults)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extractResultToResponse(res))
}

// discoverCandidates handles POST /candidates/discover.
func (s *Server) discoverCandidates(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if !s.valid(w, req) {
		return
	}

	res, err := s.resolver.Discover(r.Context(), req.Topic, req.MaxResults)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extractResultToResponse(res))
}

// listProviders handles GET /providers.
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	statuses := s.resolver.Providers(r.Context())
	resp := providersResponse{Providers: make([]providerResponse, 0, len(statuses))}
	for _, st := range statuses {
		resp.Providers = append(resp.Providers, providerStatusToResponse(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody reads a JSON body of at most maxRequestBodySize bytes into v.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// valid runs struct validation and writes a 400 for the first failing field.
func (s *Server) valid(w http.ResponseWriter, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		writeError(w, http.StatusBadRequest, validationMessage(verrs[0]))
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid request")
	return false
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// intParam parses an optional integer query parameter; empty is zero.
func intParam(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// writeDomainError maps engine errors to HTTP statuses. Provider failures
// never reach the caller raw.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)

	if retryAfter := retryAfterSeconds(err, time.Now()); retryAfter > 0 &&
		(status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	logger := observability.LoggerFromContext(r.Context(), s.logger)
	var event *zerolog.Event
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	} else {
		event = logger.Debug()
	}
	event.Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")

	writeError(w, status, message)
}

func errorStatus(err error) (int, string) {
	var unavailable *domain.ServiceUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, unavailable.Error()
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "upstream rate limit exhausted"
	case errors.Is(err, domain.ErrMalformedResponse), errors.Is(err, domain.ErrTransientNetwork):
		return http.StatusBadGateway, "upstream provider failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// retryAfterSeconds derives a Retry-After value from circuit and rate limit
// errors, zero when none applies.
func retryAfterSeconds(err error, now time.Time) int {
	var circuit *domain.CircuitOpenError
	if errors.As(err, &circuit) && circuit.RetryAt.After(now) {
		return int(math.Ceil(circuit.RetryAt.Sub(now).Seconds()))
	}
	var limited *domain.RateLimitError
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		return int(math.Ceil(limited.RetryAfter.Seconds()))
	}
	return 0
}

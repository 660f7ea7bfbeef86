package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"marketdata/internal/logging"
	"marketdata/internal/manager"
	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

const (
	maxSymbols = 1000
	// maxBodyBytes caps request bodies (the POST quotes list).
	maxBodyBytes = 1 << 20
)

type routerDeps struct {
	manager        *manager.Manager
	gatherer       prometheus.Gatherer
	log            *zap.Logger
	requestTimeout time.Duration
}

type handlers struct {
	m   *manager.Manager
	log *zap.Logger
}

func newRouter(d routerDeps) http.Handler {
	log := logging.OrNop(d.log)
	h := &handlers{m: d.manager, log: log}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(withJSONHeaders)
	r.Use(middleware.Compress(gzip.BestSpeed, "application/json", "text/plain"))
	r.Use(recoverPanic(log))
	r.Use(middleware.RequestSize(maxBodyBytes))
	if d.requestTimeout > 0 {
		r.Use(middleware.Timeout(d.requestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{DisableCompression: true}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/quote/{symbol}", h.getQuote)
		r.Get("/quotes", h.getQuotes)
		r.Post("/quotes", h.postQuotes)
		r.Get("/historical/{symbol}", h.getHistorical)
		r.Get("/fundamentals/{symbol}", h.getFundamentals)
		r.Get("/options/{contract}", h.getOption)
		r.Get("/forex/{pair}", h.getForex)
		r.Get("/futures/{symbol}", h.getFuture)
		r.Get("/economy/{indicator}", h.getEconomy)

		r.Get("/status", h.getStatus)
		r.Get("/health", h.getHealth)
		r.Get("/stats", h.getStats)

		r.Get("/cache", h.getCacheStats)
		r.Delete("/cache", h.clearCaches)
		r.Delete("/cache/{name}", h.clearCache)
	})
	return r
}

func (h *handlers) getQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.m.Quote(r.Context(), chi.URLParam(r, "symbol"))
	h.respond(w, r, q, err)
}

type quotesResponse struct {
	Quotes  map[string]provider.Quote `json:"quotes"`
	Missing []string                  `json:"missing"`
}

func (h *handlers) getQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("symbols")
	if strings.TrimSpace(q) == "" {
		h.fail(w, r, platformerrors.New(platformerrors.CodeInvalidInput, "missing symbols query param"))
		return
	}
	h.writeQuotes(w, r, strings.Split(q, ","))
}

type postBody struct {
	Symbols []string `json:"symbols"`
}

func (h *handlers) postQuotes(w http.ResponseWriter, r *http.Request) {
	var b postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		h.fail(w, r, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "invalid JSON body"))
		return
	}
	if len(b.Symbols) == 0 {
		h.fail(w, r, platformerrors.New(platformerrors.CodeInvalidInput, "symbols cannot be empty"))
		return
	}
	h.writeQuotes(w, r, b.Symbols)
}

func (h *handlers) writeQuotes(w http.ResponseWriter, r *http.Request, raw []string) {
	want := symbols.Unique(raw)
	if len(want) == 0 {
		h.fail(w, r, platformerrors.New(platformerrors.CodeInvalidInput, "symbols cannot be empty"))
		return
	}
	if len(want) > maxSymbols {
		h.fail(w, r, platformerrors.Newf(platformerrors.CodeInvalidInput, "too many symbols (max %d)", maxSymbols))
		return
	}
	got, err := h.m.Quotes(r.Context(), want)
	if err != nil && len(got) == 0 {
		h.fail(w, r, err)
		return
	}
	resp := quotesResponse{Quotes: got, Missing: []string{}}
	for _, s := range want {
		if _, ok := got[s]; !ok {
			resp.Missing = append(resp.Missing, s)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getHistorical(w http.ResponseWriter, r *http.Request) {
	period := queryOr(r, "period", "1mo")
	interval := queryOr(r, "interval", "1d")
	bars, err := h.m.Historical(r.Context(), chi.URLParam(r, "symbol"), period, interval)
	h.respond(w, r, bars, err)
}

func (h *handlers) getFundamentals(w http.ResponseWriter, r *http.Request) {
	f, err := h.m.Fundamentals(r.Context(), chi.URLParam(r, "symbol"))
	h.respond(w, r, f, err)
}

func (h *handlers) getOption(w http.ResponseWriter, r *http.Request) {
	o, err := h.m.OptionQuote(r.Context(), chi.URLParam(r, "contract"))
	h.respond(w, r, o, err)
}

// getForex takes the pair as EURUSD or EUR-USD, since a slash cannot sit in
// a path segment.
func (h *handlers) getForex(w http.ResponseWriter, r *http.Request) {
	fx, err := h.m.ForexQuote(r.Context(), chi.URLParam(r, "pair"))
	h.respond(w, r, fx, err)
}

func (h *handlers) getFuture(w http.ResponseWriter, r *http.Request) {
	f, err := h.m.FutureQuote(r.Context(), chi.URLParam(r, "symbol"))
	h.respond(w, r, f, err)
}

func (h *handlers) getEconomy(w http.ResponseWriter, r *http.Request) {
	e, err := h.m.EconomyData(r.Context(), chi.URLParam(r, "indicator"))
	h.respond(w, r, e, err)
}

func (h *handlers) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Status())
}

func (h *handlers) getHealth(w http.ResponseWriter, r *http.Request) {
	health := h.m.HealthCheck(r.Context())
	// some providers down is degraded but serving; all down is an outage
	status := http.StatusServiceUnavailable
	for _, ok := range health {
		if ok {
			status = http.StatusOK
			break
		}
	}
	writeJSON(w, status, health)
}

func (h *handlers) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Stats())
}

func (h *handlers) getCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Caches().Stats())
}

func (h *handlers) clearCaches(w http.ResponseWriter, _ *http.Request) {
	h.m.Caches().ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Caches().Clear(chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// fail writes err as a JSON error body with a status derived from its code.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if wait, ok := provider.RetryAfter(err); ok && status == http.StatusTooManyRequests {
		secs := int((wait + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status >= 500 {
		h.log.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	resp := platformerrors.ToJSON(err)
	if errors.Is(err, context.DeadlineExceeded) {
		resp.Code = string(platformerrors.CodeTimeout)
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case platformerrors.CodeNotFound:
		return http.StatusNotFound
	case platformerrors.CodeRateLimit:
		return http.StatusTooManyRequests
	case platformerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case platformerrors.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func queryOr(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		return v
	}
	return def
}

package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/resource/httpadapter"

	"github.com/andydixon/promsource/internal/suggest"
)

// resourceHandler serves the frontend's autocomplete and metadata calls:
// label names, label values, series lookups, metric-name suggestions and the
// rules listing. Everything except rules reads through the suggestion cache.
type resourceHandler struct {
	client *Client
	cache  *suggest.Cache
}

func newResourceHandler(client *Client, cache *suggest.Cache) backend.CallResourceHandler {
	h := &resourceHandler{client: client, cache: cache}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/labels", h.labels)
	mux.HandleFunc("/api/v1/label/", h.labelValues)
	mux.HandleFunc("/api/v1/series", h.series)
	mux.HandleFunc("/api/v1/rules", h.rules)
	mux.HandleFunc("/suggestions/metrics", h.metricNames)
	return httpadapter.New(mux)
}

// ─── HANDLERS ─────────────────────────────────────────────────────────────────

func (h *resourceHandler) labels(w http.ResponseWriter, r *http.Request) {
	params := parseClientParams(r)
	remapMatch(params)
	start, end := parseOptionalTime(params.Get("start")), parseOptionalTime(params.Get("end"))
	h.cached(w, "labels?"+params.Encode(), func() (interface{}, error) {
		return h.client.Labels(r.Context(), params["match[]"], start, end)
	})
}

func (h *resourceHandler) labelValues(w http.ResponseWriter, r *http.Request) {
	// /api/v1/label/{name}/values
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 || parts[4] != "values" {
		writeErrorMessage(w, http.StatusNotFound, "unknown label endpoint")
		return
	}
	label := parts[3]

	params := parseClientParams(r)
	remapMatch(params)
	start, end := parseOptionalTime(params.Get("start")), parseOptionalTime(params.Get("end"))
	h.cached(w, "label/"+label+"?"+params.Encode(), func() (interface{}, error) {
		return h.client.LabelValues(r.Context(), label, params["match[]"], start, end)
	})
}

func (h *resourceHandler) series(w http.ResponseWriter, r *http.Request) {
	params := parseClientParams(r)
	remapMatch(params)
	if len(params["match[]"]) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "series lookup needs at least one match[] selector")
		return
	}
	sets, err := h.client.Series(r.Context(),
		params["match[]"],
		parseOptionalTime(params.Get("start")),
		parseOptionalTime(params.Get("end")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sets)
}

func (h *resourceHandler) rules(w http.ResponseWriter, r *http.Request) {
	rd, err := h.client.Rules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rd)
}

func (h *resourceHandler) metricNames(w http.ResponseWriter, r *http.Request) {
	h.cached(w, "metric-names", func() (interface{}, error) {
		return h.client.MetricNames(r.Context())
	})
}

// cached serves key from the suggestion cache, falling back to fetch and
// storing the rendered payload on a miss.
func (h *resourceHandler) cached(w http.ResponseWriter, key string, fetch func() (interface{}, error)) {
	if payload, ok := h.cache.Get(key); ok {
		suggestionCacheHits.WithLabelValues("hit").Inc()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
		return
	}
	suggestionCacheHits.WithLabelValues("miss").Inc()

	v, err := fetch()
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := json.Marshal(map[string]interface{}{"status": "success", "data": v})
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.cache.Put(key, payload)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

// ─── PARAM PARSING & RESPONSE WRITING ─────────────────────────────────────────

// parseClientParams merges GET + JSON-POST + form-POST into url.Values.
func parseClientParams(r *http.Request) url.Values {
	vals := url.Values{}
	if r.Method == http.MethodPost {
		ct := r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(ct, "application/json") {
			var m map[string]interface{}
			_ = json.Unmarshal(body, &m)
			for k, v := range m {
				switch arr := v.(type) {
				case []interface{}:
					for _, x := range arr {
						vals.Add(k, fmt.Sprintf("%v", x))
					}
				default:
					vals.Set(k, fmt.Sprintf("%v", v))
				}
			}
		} else {
			r.Body = io.NopCloser(bytes.NewReader(body))
			_ = r.ParseForm()
			for k, vs := range r.PostForm {
				for _, x := range vs {
					vals.Add(k, x)
				}
			}
		}
	}
	for k, vs := range r.URL.Query() {
		for _, x := range vs {
			vals.Add(k, x)
		}
	}
	return vals
}

// remapMatch turns a bare "match" into "match[]" for Prometheus.
func remapMatch(vals url.Values) {
	if m := vals["match"]; len(m) > 0 && vals.Get("match[]") == "" {
		vals["match[]"] = m
		delete(vals, "match")
	}
}

// parseOptionalTime parses integer or RFC3339 into epoch seconds; empty or
// unparseable input means "unbounded" and comes back as zero.
func parseOptionalTime(s string) int64 {
	if s == "" {
		return 0
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	return 0
}

// writeJSON emits the standard Prometheus envelope around v.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
		"data":   v,
	})
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "error",
		"error":  msg,
	})
}

// writeError maps a client error onto the wire. Cancellation means the
// frontend already hung up, so nothing is written at all.
func writeError(w http.ResponseWriter, err error) {
	if isCancellation(err) {
		return
	}
	status := http.StatusBadGateway
	msg := err.Error()
	if qe, ok := err.(*QueryError); ok {
		if qe.Status > 0 {
			status = qe.Status
		}
		msg = qe.Message
	}
	writeErrorMessage(w, status, msg)
}

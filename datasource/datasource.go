package datasource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/instancemgmt"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/andydixon/promsource/internal/suggest"
)

// Make sure Datasource implements the handler interfaces we claim to, so a
// wiring mistake fails at compile time instead of as a runtime "not
// implemented" response.
var (
	_ backend.QueryDataHandler   = (*Datasource)(nil)
	_ backend.CheckHealthHandler = (*Datasource)(nil)
)

// maxConcurrentQueries bounds the fan-out for one QueryData call. A dashboard
// refresh sends every panel query in a single request.
const maxConcurrentQueries = 8

// settingsModel is the datasource configuration JSON Grafana stores for us.
type settingsModel struct {
	HTTPMethod            string `json:"httpMethod"`
	QueryTimeout          string `json:"queryTimeout"`
	CustomQueryParameters string `json:"customQueryParameters"`
	SuggestCacheTTL       string `json:"suggestCacheTTL"`
}

// Datasource serves one configured Prometheus upstream.
type Datasource struct {
	backend.CallResourceHandler
	client *Client
	tmpl   TemplateSrv

	// timeout is forwarded as the Prometheus `timeout` query parameter so
	// the upstream aborts server-side at the same deadline the client does.
	timeout string
}

// New builds a datasource instance from its stored settings. It is handed to
// datasource.Manage in main and called by the SDK per instance.
func New(_ context.Context, settings backend.DataSourceInstanceSettings) (instancemgmt.Instance, error) {
	var cfg settingsModel
	if len(settings.JSONData) > 0 {
		if err := json.Unmarshal(settings.JSONData, &cfg); err != nil {
			return nil, errors.Wrap(err, "parse datasource settings")
		}
	}

	if _, err := url.ParseRequestURI(settings.URL); err != nil {
		return nil, errors.Wrap(err, "invalid Prometheus URL")
	}

	custom, err := url.ParseQuery(cfg.CustomQueryParameters)
	if err != nil {
		return nil, errors.Wrap(err, "invalid custom query parameters")
	}

	timeout := time.Minute
	if cfg.QueryTimeout != "" {
		sec, err := parseIntervalSeconds(cfg.QueryTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "invalid query timeout")
		}
		timeout = time.Duration(sec * float64(time.Second))
	}

	cacheTTL := time.Minute
	if cfg.SuggestCacheTTL != "" {
		sec, err := parseIntervalSeconds(cfg.SuggestCacheTTL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid suggestion cache TTL")
		}
		cacheTTL = time.Duration(sec * float64(time.Second))
	}

	headers := http.Header{}
	if settings.BasicAuthEnabled {
		cred := settings.BasicAuthUser + ":" + settings.DecryptedSecureJSONData["basicAuthPassword"]
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred)))
	} else if key := settings.DecryptedSecureJSONData["apiKey"]; key != "" {
		headers.Set("Authorization", "Bearer "+key)
	}

	client := NewClient(settings.URL, strings.ToUpper(cfg.HTTPMethod), timeout, headers, custom)
	return &Datasource{
		CallResourceHandler: newResourceHandler(client, suggest.New(cacheTTL)),
		client:              client,
		tmpl:                NoopTemplateSrv{},
		timeout:             formatStep(timeout.Seconds()) + "s",
	}, nil
}

// WithTemplateSrv swaps in a host-provided template-variable engine.
func (d *Datasource) WithTemplateSrv(t TemplateSrv) *Datasource {
	d.tmpl = t
	return d
}

// QueryData answers one batch of panel queries. Queries run concurrently;
// each response lands under its RefID.
func (d *Datasource) QueryData(ctx context.Context, req *backend.QueryDataRequest) (*backend.QueryDataResponse, error) {
	response := backend.NewQueryDataResponse()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for _, q := range req.Queries {
		q := q
		g.Go(func() error {
			res := d.query(gctx, q)
			mu.Lock()
			response.Responses[q.RefID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-query failures are reported per RefID, never here

	return response, nil
}

// CheckHealth backs the "Save & test" button: one trivial instant query
// proves connectivity, auth and API compatibility in a single round trip.
func (d *Datasource) CheckHealth(ctx context.Context, _ *backend.CheckHealthRequest) (*backend.CheckHealthResult, error) {
	_, err := d.client.Query(ctx, "1+1", time.Now().Unix(), "")
	if err != nil {
		log.DefaultLogger.Warn("health check failed", "err", err)
		return &backend.CheckHealthResult{
			Status:  backend.HealthStatusError,
			Message: err.Error(),
		}, nil
	}
	return &backend.CheckHealthResult{
		Status:  backend.HealthStatusOk,
		Message: "Data source is working",
	}, nil
}

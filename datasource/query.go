package datasource

import (
	"context"
	"encoding/json"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/prometheus/common/model"
)

// queryModel is the per-panel query JSON the frontend sends.
type queryModel struct {
	Expr           string            `json:"expr"`
	LegendFormat   string            `json:"legendFormat"`
	Interval       string            `json:"interval"`
	IntervalFactor float64           `json:"intervalFactor"`
	Instant        bool              `json:"instant"`
	Range          bool              `json:"range"`
	Format         string            `json:"format"`
	UTCOffsetSec   int64             `json:"utcOffsetSec"`
	ScopedVars     map[string]string `json:"scopedVars,omitempty"`

	// annotation queries only
	Step            string `json:"step,omitempty"`
	TagKeys         string `json:"tagKeys,omitempty"`
	TitleFormat     string `json:"titleFormat,omitempty"`
	TextFormat      string `json:"textFormat,omitempty"`
	UseValueForTime bool   `json:"useValueForTime,omitempty"`
}

const annotationQueryType = "annotation"

// query runs a single DataQuery end to end: interpolate, shape the window,
// hit the upstream, transform. Cancellation comes back as an empty response
// with no error recorded.
func (d *Datasource) query(ctx context.Context, q backend.DataQuery) backend.DataResponse {
	var qm queryModel
	if err := json.Unmarshal(q.JSON, &qm); err != nil {
		return backend.DataResponse{Error: err, Status: backend.StatusBadRequest}
	}

	if q.QueryType == annotationQueryType {
		return d.annotationQuery(ctx, q, qm)
	}

	expr := d.tmpl.Replace(qm.Expr, qm.ScopedVars)
	var frames data.Frames

	// Explore asks for range and instant at once; panels set exactly one.
	runRange := qm.Range || !qm.Instant
	if runRange {
		start, end, step, err := d.rangeWindow(q, qm)
		if err != nil {
			return backend.DataResponse{Error: err, Status: backend.StatusBadRequest}
		}
		log.DefaultLogger.Debug("range query", "expr", expr, "start", start, "end", end, "step", step)
		res, err := d.client.QueryRange(ctx, expr, start, end, step, d.timeout)
		if resp, done := settle(err); done {
			return resp
		}
		fs, err := Frames(res, qm.LegendFormat)
		if err != nil {
			return backend.DataResponse{Error: err}
		}
		frames = append(frames, fs...)
	}
	if qm.Instant {
		res, err := d.client.Query(ctx, expr, q.TimeRange.To.Unix(), d.timeout)
		if resp, done := settle(err); done {
			return resp
		}
		if qm.Format == "table" && res.Type == model.ValVector {
			frame, err := TableFrame(res)
			if err != nil {
				return backend.DataResponse{Error: err}
			}
			frames = append(frames, frame)
		} else {
			fs, err := Frames(res, qm.LegendFormat)
			if err != nil {
				return backend.DataResponse{Error: err}
			}
			frames = append(frames, fs...)
		}
	}

	return backend.DataResponse{Frames: frames}
}

// rangeWindow turns the host's raw time range into an aligned, ceilinged
// query window. The aligned bounds can be fractional when the step is.
func (d *Datasource) rangeWindow(q backend.DataQuery, qm queryModel) (start, end float64, step float64, err error) {
	minInterval, err := parseIntervalSeconds(d.tmpl.Replace(qm.Interval, qm.ScopedVars))
	if err != nil {
		return 0, 0, 0, err
	}
	interval := q.Interval.Seconds()
	rangeSec := q.TimeRange.To.Sub(q.TimeRange.From).Seconds()
	step = adjustInterval(interval, minInterval, rangeSec, qm.IntervalFactor)
	start, end = alignRange(q.TimeRange.From.Unix(), q.TimeRange.To.Unix(), step, qm.UTCOffsetSec)
	return start, end, step, nil
}

// annotationQuery runs the range query behind a dashboard annotation layer
// and returns its events as a single frame.
func (d *Datasource) annotationQuery(ctx context.Context, q backend.DataQuery, qm queryModel) backend.DataResponse {
	expr := d.tmpl.Replace(qm.Expr, qm.ScopedVars)

	step := defaultAnnotationStep.Seconds()
	if qm.Step != "" {
		parsed, err := parseIntervalSeconds(qm.Step)
		if err != nil {
			return backend.DataResponse{Error: err, Status: backend.StatusBadRequest}
		}
		if parsed > 0 {
			step = parsed
		}
	}

	start, end := alignRange(q.TimeRange.From.Unix(), q.TimeRange.To.Unix(), step, qm.UTCOffsetSec)
	res, err := d.client.QueryRange(ctx, expr, start, end, step, d.timeout)
	if resp, done := settle(err); done {
		return resp
	}
	if res.Type != model.ValMatrix {
		return backend.DataResponse{Error: &QueryError{Message: "annotation query must return a range result"}}
	}

	events := AnnotationEvents(res.Matrix, AnnotationOptions{
		TagKeys:         qm.TagKeys,
		TitleFormat:     qm.TitleFormat,
		TextFormat:      qm.TextFormat,
		UseValueForTime: qm.UseValueForTime,
	})
	return backend.DataResponse{Frames: data.Frames{AnnotationFrame(events)}}
}

// settle translates a client error into the response to return, if any.
// Cancellation short-circuits to an empty, error-free response.
func settle(err error) (backend.DataResponse, bool) {
	if err == nil {
		return backend.DataResponse{}, false
	}
	if isCancellation(err) {
		return backend.DataResponse{}, true
	}
	resp := backend.DataResponse{Error: err}
	if qe, ok := err.(*QueryError); ok && qe.Status > 0 {
		resp.Status = backend.Status(qe.Status)
	}
	return resp, true
}

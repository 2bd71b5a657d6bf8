package datasource

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
)

// ─── SERIES TRANSFORMATION ────────────────────────────────────────────────────

// legendRe matches {{label}} placeholders, whitespace tolerated.
var legendRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// renderTemplate substitutes {{label}} placeholders from metric. A
// placeholder naming an absent label renders as the empty string, matching
// what dashboard legends have always done.
func renderTemplate(format string, metric model.Metric) string {
	if format == "" {
		return ""
	}
	return legendRe.ReplaceAllStringFunc(format, func(m string) string {
		name := legendRe.FindStringSubmatch(m)[1]
		return string(metric[model.LabelName(name)])
	})
}

// seriesName picks the display name for one series: the rendered legend
// template when one is set, otherwise the canonical metric{labels} form.
func seriesName(metric model.Metric, legendFormat string) string {
	if legendFormat != "" {
		return renderTemplate(legendFormat, metric)
	}
	return metric.String()
}

func frameLabels(metric model.Metric) data.Labels {
	if len(metric) == 0 {
		return nil
	}
	l := make(data.Labels, len(metric))
	for k, v := range metric {
		l[string(k)] = string(v)
	}
	return l
}

func seriesFrame(metric model.Metric, pairs []model.SamplePair, legendFormat string) *data.Frame {
	name := seriesName(metric, legendFormat)
	ts := make([]time.Time, 0, len(pairs))
	vals := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		ts = append(ts, p.Timestamp.Time())
		vals = append(vals, float64(p.Value))
	}
	valueField := data.NewField("value", frameLabels(metric), vals)
	valueField.Config = &data.FieldConfig{DisplayNameFromDS: name}
	frame := data.NewFrame(name,
		data.NewField("time", nil, ts),
		valueField,
	)
	return frame
}

// Frames turns a decoded query result into renderable frames, one per series.
func Frames(res *QueryResult, legendFormat string) (data.Frames, error) {
	switch res.Type {
	case model.ValMatrix:
		out := make(data.Frames, 0, len(res.Matrix))
		for _, stream := range res.Matrix {
			out = append(out, seriesFrame(stream.Metric, stream.Values, legendFormat))
		}
		return out, nil
	case model.ValVector:
		out := make(data.Frames, 0, len(res.Vector))
		for _, sample := range res.Vector {
			pair := model.SamplePair{Timestamp: sample.Timestamp, Value: sample.Value}
			out = append(out, seriesFrame(sample.Metric, []model.SamplePair{pair}, legendFormat))
		}
		return out, nil
	case model.ValScalar:
		pair := model.SamplePair{Timestamp: res.Scalar.Timestamp, Value: res.Scalar.Value}
		return data.Frames{seriesFrame(model.Metric{}, []model.SamplePair{pair}, legendFormat)}, nil
	}
	return nil, errors.Errorf("cannot build frames from result type %q", res.Type)
}

// TableFrame flattens an instant vector into one wide frame: a time column,
// one column per label name seen anywhere in the result, and a value column.
// The explore table view wants this shape instead of per-series frames.
func TableFrame(res *QueryResult) (*data.Frame, error) {
	if res.Type != model.ValVector {
		return nil, errors.Errorf("table format needs a vector result, got %q", res.Type)
	}

	nameSet := map[string]struct{}{}
	for _, sample := range res.Vector {
		for k := range sample.Metric {
			nameSet[string(k)] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for k := range nameSet {
		names = append(names, k)
	}
	sort.Strings(names)

	n := len(res.Vector)
	times := make([]time.Time, 0, n)
	vals := make([]float64, 0, n)
	cols := make(map[string][]string, len(names))
	for _, sample := range res.Vector {
		times = append(times, sample.Timestamp.Time())
		vals = append(vals, float64(sample.Value))
		for _, name := range names {
			cols[name] = append(cols[name], string(sample.Metric[model.LabelName(name)]))
		}
	}

	fields := make([]*data.Field, 0, len(names)+2)
	fields = append(fields, data.NewField("Time", nil, times))
	for _, name := range names {
		fields = append(fields, data.NewField(name, nil, cols[name]))
	}
	fields = append(fields, data.NewField("Value", nil, vals))
	return data.NewFrame("", fields...), nil
}

// ─── ANNOTATIONS ──────────────────────────────────────────────────────────────

// AnnotationOptions shapes how a matrix result becomes annotation events.
type AnnotationOptions struct {
	TagKeys         string // comma-separated label names lifted into event tags
	TitleFormat     string
	TextFormat      string
	UseValueForTime bool
}

// AnnotationEvent is a single renderable event on the dashboard timeline.
type AnnotationEvent struct {
	Time    time.Time
	TimeEnd time.Time
	Title   string
	Text    string
	Tags    []string
}

// AnnotationEvents walks a range-query matrix and emits one event per active
// sample. A sample is active when its value is non-zero; with UseValueForTime
// set, every sample is taken and its value is read as the event timestamp in
// milliseconds, with duplicate timestamps emitted at most once per series.
func AnnotationEvents(m model.Matrix, opts AnnotationOptions) []AnnotationEvent {
	var tagKeys []model.LabelName
	for _, k := range strings.Split(opts.TagKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			tagKeys = append(tagKeys, model.LabelName(k))
		}
	}

	var out []AnnotationEvent
	for _, stream := range m {
		var tags []string
		for _, k := range tagKeys {
			if v, ok := stream.Metric[k]; ok {
				tags = append(tags, string(v))
			}
		}

		seen := map[int64]struct{}{}
		for _, pair := range stream.Values {
			v := float64(pair.Value)
			var at time.Time
			if opts.UseValueForTime {
				if math.IsNaN(v) {
					continue
				}
				ms := int64(v)
				if _, dup := seen[ms]; dup {
					continue
				}
				seen[ms] = struct{}{}
				at = time.UnixMilli(ms)
			} else {
				if math.IsNaN(v) || v == 0 {
					continue
				}
				at = pair.Timestamp.Time()
			}
			out = append(out, AnnotationEvent{
				Time:    at,
				TimeEnd: at,
				Title:   renderTemplate(opts.TitleFormat, stream.Metric),
				Text:    renderTemplate(opts.TextFormat, stream.Metric),
				Tags:    tags,
			})
		}
	}
	return out
}

// AnnotationFrame packs events into the frame shape the host's annotation
// layer reads back out: time, timeEnd, title, text and comma-joined tags.
func AnnotationFrame(events []AnnotationEvent) *data.Frame {
	n := len(events)
	times := make([]time.Time, 0, n)
	ends := make([]time.Time, 0, n)
	titles := make([]string, 0, n)
	texts := make([]string, 0, n)
	tags := make([]string, 0, n)
	for _, ev := range events {
		times = append(times, ev.Time)
		ends = append(ends, ev.TimeEnd)
		titles = append(titles, ev.Title)
		texts = append(texts, ev.Text)
		tags = append(tags, strings.Join(ev.Tags, ","))
	}
	return data.NewFrame("annotations",
		data.NewField("time", nil, times),
		data.NewField("timeEnd", nil, ends),
		data.NewField("title", nil, titles),
		data.NewField("text", nil, texts),
		data.NewField("tags", nil, tags),
	)
}

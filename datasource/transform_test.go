package datasource

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, payload string) *QueryResult {
	t.Helper()
	res, err := decodeQueryResult(json.RawMessage(payload), nil)
	require.NoError(t, err)
	return res
}

// ─── envelope decoding ─────────────────────────────────────────────────────────

func TestDecodeQueryResult_Matrix(t *testing.T) {
	res := mustDecode(t, `{
		"resultType": "matrix",
		"result": [
			{"metric": {"__name__":"up","job":"node"}, "values": [[1600000000,"1"],[1600000060,"0"]]}
		]
	}`)
	require.Equal(t, model.ValMatrix, res.Type)
	require.Len(t, res.Matrix, 1)
	require.Equal(t, model.LabelValue("node"), res.Matrix[0].Metric["job"])
	require.Len(t, res.Matrix[0].Values, 2)
	require.Equal(t, model.SampleValue(1), res.Matrix[0].Values[0].Value)
}

func TestDecodeQueryResult_Vector(t *testing.T) {
	res := mustDecode(t, `{
		"resultType": "vector",
		"result": [{"metric": {"__name__":"up"}, "value": [1600000000,"1"]}]
	}`)
	require.Equal(t, model.ValVector, res.Type)
	require.Len(t, res.Vector, 1)
}

func TestDecodeQueryResult_Scalar(t *testing.T) {
	res := mustDecode(t, `{"resultType": "scalar", "result": [1600000000,"2"]}`)
	require.Equal(t, model.ValScalar, res.Type)
	require.Equal(t, model.SampleValue(2), res.Scalar.Value)
}

func TestDecodeQueryResult_UnsupportedType(t *testing.T) {
	_, err := decodeQueryResult(json.RawMessage(`{"resultType":"string","result":[1,"x"]}`), nil)
	require.Error(t, err)
}

func TestDecodeQueryResult_NullScalar(t *testing.T) {
	_, err := decodeQueryResult(json.RawMessage(`{"resultType":"scalar","result":null}`), nil)
	require.Error(t, err)
}

// ─── legend rendering ──────────────────────────────────────────────────────────

func TestRenderTemplate(t *testing.T) {
	metric := model.Metric{"job": "node", "instance": "host:9100"}
	cases := []struct{ format, want string }{
		{"{{job}}", "node"},
		{"{{ job }} on {{instance}}", "node on host:9100"},
		{"{{missing}}", ""},
		{"static", "static"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := renderTemplate(tc.format, metric); got != tc.want {
			t.Errorf("renderTemplate(%q) = %q; want %q", tc.format, got, tc.want)
		}
	}
}

func TestSeriesName_Fallback(t *testing.T) {
	metric := model.Metric{"__name__": "up", "job": "node"}
	require.Equal(t, `up{job="node"}`, seriesName(metric, ""))
	require.Equal(t, "node", seriesName(metric, "{{job}}"))
}

// ─── frames ────────────────────────────────────────────────────────────────────

func TestFrames_Matrix(t *testing.T) {
	res := mustDecode(t, `{
		"resultType": "matrix",
		"result": [
			{"metric": {"__name__":"up","job":"a"}, "values": [[1600000000,"1"],[1600000060,"2"]]},
			{"metric": {"__name__":"up","job":"b"}, "values": [[1600000000,"3"]]}
		]
	}`)
	frames, err := Frames(res, "{{job}}")
	require.NoError(t, err)
	require.Len(t, frames, 2)

	frame := frames[0]
	require.Equal(t, "a", frame.Name)
	require.Len(t, frame.Fields, 2)

	times := frame.Fields[0]
	require.Equal(t, 2, times.Len())
	require.Equal(t, time.Unix(1600000000, 0).UTC(), times.At(0).(time.Time).UTC())

	values := frame.Fields[1]
	require.Equal(t, "a", values.Labels["job"])
	require.Equal(t, "a", values.Config.DisplayNameFromDS)
	got := []float64{values.At(0).(float64), values.At(1).(float64)}
	if diff := cmp.Diff([]float64{1, 2}, got); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestFrames_VectorSinglePoint(t *testing.T) {
	res := mustDecode(t, `{
		"resultType": "vector",
		"result": [{"metric": {"__name__":"up"}, "value": [1600000000,"1"]}]
	}`)
	frames, err := Frames(res, "")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, 1, frames[0].Fields[0].Len())
	require.Equal(t, "up", frames[0].Name)
}

func TestTableFrame(t *testing.T) {
	res := mustDecode(t, `{
		"resultType": "vector",
		"result": [
			{"metric": {"__name__":"up","job":"a"}, "value": [1600000000,"1"]},
			{"metric": {"__name__":"up","instance":"x"}, "value": [1600000000,"0"]}
		]
	}`)
	frame, err := TableFrame(res)
	require.NoError(t, err)

	// Time + __name__ + instance + job + Value, label columns sorted
	require.Len(t, frame.Fields, 5)
	require.Equal(t, "Time", frame.Fields[0].Name)
	require.Equal(t, "__name__", frame.Fields[1].Name)
	require.Equal(t, "instance", frame.Fields[2].Name)
	require.Equal(t, "job", frame.Fields[3].Name)
	require.Equal(t, "Value", frame.Fields[4].Name)

	// absent label renders empty
	require.Equal(t, "a", frame.Fields[3].At(0).(string))
	require.Equal(t, "", frame.Fields[3].At(1).(string))
}

func TestTableFrame_RejectsMatrix(t *testing.T) {
	res := mustDecode(t, `{"resultType":"matrix","result":[]}`)
	_, err := TableFrame(res)
	require.Error(t, err)
}

// ─── annotations ───────────────────────────────────────────────────────────────

func annotationMatrix(t *testing.T, payload string) model.Matrix {
	t.Helper()
	res := mustDecode(t, payload)
	require.Equal(t, model.ValMatrix, res.Type)
	return res.Matrix
}

func TestAnnotationEvents_TruthyFilter(t *testing.T) {
	m := annotationMatrix(t, `{
		"resultType": "matrix",
		"result": [
			{"metric": {"alertname":"High"}, "values": [[100,"0"],[160,"1"],[220,"0"],[280,"1"]]}
		]
	}`)
	events := AnnotationEvents(m, AnnotationOptions{TitleFormat: "{{alertname}}"})
	require.Len(t, events, 2)
	require.Equal(t, time.Unix(160, 0).UTC(), events[0].Time.UTC())
	require.Equal(t, "High", events[0].Title)
}

func TestAnnotationEvents_UseValueForTimeDedup(t *testing.T) {
	// three samples carry the same deploy timestamp, one a different one
	m := annotationMatrix(t, `{
		"resultType": "matrix",
		"result": [
			{"metric": {"app":"api"}, "values": [
				[100,"1600000000000"],[160,"1600000000000"],[220,"1600000000000"],[280,"1600000999000"]
			]}
		]
	}`)
	events := AnnotationEvents(m, AnnotationOptions{UseValueForTime: true})
	require.Len(t, events, 2)
	require.Equal(t, time.UnixMilli(1600000000000).UTC(), events[0].Time.UTC())
	require.Equal(t, time.UnixMilli(1600000999000).UTC(), events[1].Time.UTC())
}

func TestAnnotationEvents_DedupIsPerSeries(t *testing.T) {
	m := annotationMatrix(t, `{
		"resultType": "matrix",
		"result": [
			{"metric": {"app":"a"}, "values": [[100,"1600000000000"]]},
			{"metric": {"app":"b"}, "values": [[100,"1600000000000"]]}
		]
	}`)
	events := AnnotationEvents(m, AnnotationOptions{UseValueForTime: true})
	require.Len(t, events, 2)
}

func TestAnnotationEvents_Tags(t *testing.T) {
	m := annotationMatrix(t, `{
		"resultType": "matrix",
		"result": [
			{"metric": {"severity":"page","team":"infra"}, "values": [[100,"1"]]}
		]
	}`)
	events := AnnotationEvents(m, AnnotationOptions{TagKeys: "severity, team, missing"})
	require.Len(t, events, 1)
	require.Equal(t, []string{"page", "infra"}, events[0].Tags)
}

func TestAnnotationFrame(t *testing.T) {
	events := []AnnotationEvent{
		{Time: time.Unix(1, 0), TimeEnd: time.Unix(1, 0), Title: "t", Text: "x", Tags: []string{"a", "b"}},
	}
	frame := AnnotationFrame(events)
	require.Len(t, frame.Fields, 5)
	require.Equal(t, "time", frame.Fields[0].Name)
	require.Equal(t, "a,b", frame.Fields[4].At(0).(string))
}

package datasource

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
)

// ─── PROMETHEUS API ENVELOPE ──────────────────────────────────────────────────

// apiResponse is the outer envelope every /api/v1 endpoint wraps its payload
// in: {"status":"success","data":...} or {"status":"error","error":"..."}.
type apiResponse struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
	Error     string          `json:"error,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

type queryPayload struct {
	ResultType string          `json:"resultType"`
	Result     json.RawMessage `json:"result"`
}

// QueryResult is a decoded query / query_range payload. Exactly one of
// Matrix, Vector and Scalar is set, according to Type.
type QueryResult struct {
	Type     model.ValueType
	Matrix   model.Matrix
	Vector   model.Vector
	Scalar   *model.Scalar
	Warnings []string
}

// decodeQueryResult picks the payload apart by resultType. The model package
// knows how to read the ["<unix>","<value>"] sample pairs, so all the fiddly
// number-in-a-string handling lives over there.
func decodeQueryResult(data json.RawMessage, warnings []string) (*QueryResult, error) {
	var payload queryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.Wrap(err, "decode query payload")
	}

	out := &QueryResult{Warnings: warnings}
	switch payload.ResultType {
	case "matrix":
		out.Type = model.ValMatrix
		if err := json.Unmarshal(payload.Result, &out.Matrix); err != nil {
			return nil, errors.Wrap(err, "decode matrix result")
		}
	case "vector":
		out.Type = model.ValVector
		if err := json.Unmarshal(payload.Result, &out.Vector); err != nil {
			return nil, errors.Wrap(err, "decode vector result")
		}
	case "scalar":
		out.Type = model.ValScalar
		if err := json.Unmarshal(payload.Result, &out.Scalar); err != nil {
			return nil, errors.Wrap(err, "decode scalar result")
		}
		if out.Scalar == nil {
			return nil, errors.New("scalar result missing")
		}
	default:
		return nil, errors.Errorf("unsupported result type %q", payload.ResultType)
	}
	return out, nil
}

// ─── RULES API ────────────────────────────────────────────────────────────────

// RuleDiscovery mirrors the /api/v1/rules payload.
type RuleDiscovery struct {
	Groups []RuleGroup `json:"groups"`
}

type RuleGroup struct {
	Name     string  `json:"name"`
	File     string  `json:"file"`
	Interval float64 `json:"interval"`
	Rules    []Rule  `json:"rules"`
}

// Rule covers both recording and alerting rules; alerting-only fields stay
// empty for recording rules.
type Rule struct {
	Name        string            `json:"name"`
	Query       string            `json:"query"`
	Type        string            `json:"type"`
	State       string            `json:"state,omitempty"`
	Health      string            `json:"health,omitempty"`
	Duration    float64           `json:"duration,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
}

// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// ErrBackendUnavailable means the query backend could not answer. Callers
// skip the tick and try again on the next one.
var ErrBackendUnavailable = errors.New("metrics backend unavailable")

// Querier evaluates an instant PromQL query.
type Querier interface {
	Query(ctx context.Context, query string, at time.Time) (model.Vector, error)
}

// PrometheusQuerier talks to the Prometheus HTTP API.
type PrometheusQuerier struct {
	baseURL string
	client  *http.Client
}

func NewPrometheusQuerier(baseURL string, timeout time.Duration) *PrometheusQuerier {
	return &PrometheusQuerier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type promResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Data      struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
}

func (q *PrometheusQuerier) Query(ctx context.Context, query string, at time.Time) (model.Vector, error) {
	v := url.Values{}
	v.Set("query", query)
	v.Set("time", strconv.FormatFloat(float64(at.UnixMilli())/1000, 'f', 3, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/api/v1/query?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, resp.Status)
	}

	var pr promResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decoding query response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("query %q failed: %s: %s", query, pr.ErrorType, pr.Error)
	}

	switch pr.Data.ResultType {
	case model.ValVector.String():
		var vec model.Vector
		if err := json.Unmarshal(pr.Data.Result, &vec); err != nil {
			return nil, fmt.Errorf("decoding vector: %w", err)
		}
		return vec, nil
	case model.ValScalar.String():
		var sc model.Scalar
		if err := json.Unmarshal(pr.Data.Result, &sc); err != nil {
			return nil, fmt.Errorf("decoding scalar: %w", err)
		}
		return model.Vector{{Metric: model.Metric{}, Value: sc.Value, Timestamp: sc.Timestamp}}, nil
	}
	return nil, fmt.Errorf("query %q returned unsupported result type %q", query, pr.Data.ResultType)
}

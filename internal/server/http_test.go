package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHTTP(t *testing.T) *httptest.Server {
	t.Helper()
	s := newTestService(t)
	mux := http.NewServeMux()
	NewHTTPService(s, s.metrics, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHTTPInfer(t *testing.T) {
	srv := newTestHTTP(t)

	resp := postJSON(t, srv.URL+"/v1/servables/adder/methods/add:infer", map[string]any{
		"instances": []map[string]any{
			{"x": map[string]any{"shape": []int64{1, 2}, "data": []float64{1, 2}}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply jsonInferReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.NotEmpty(t, reply.RequestID)
	require.Len(t, reply.Results, 1)
	sum := reply.Results[0]["sum"]
	assert.Equal(t, "float32", sum.DType)
	assert.Equal(t, []int64{1, 2}, sum.Shape)
	assert.Equal(t, []float64{11, 22}, sum.Data)
}

func TestHTTPInferDefaultsShapeAndDType(t *testing.T) {
	srv := newTestHTTP(t)

	// No shape, no dtype: a flat float32 vector.
	resp := postJSON(t, srv.URL+"/v1/servables/adder/methods/add:infer", map[string]any{
		"instances": []map[string]any{
			{"x": map[string]any{"data": []float64{1, 2}}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply jsonInferReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.Len(t, reply.Results, 1)
	assert.Equal(t, []float64{11, 22}, reply.Results[0]["sum"].Data)
}

func TestHTTPInferErrors(t *testing.T) {
	srv := newTestHTTP(t)

	instances := []map[string]any{
		{"x": map[string]any{"shape": []int64{1, 2}, "data": []float64{1, 2}}},
	}

	cases := []struct {
		name string
		url  string
		body any
		code int
	}{
		{"unknown servable", "/v1/servables/nope/methods/add:infer",
			map[string]any{"instances": instances}, http.StatusNotFound},
		{"unknown method", "/v1/servables/adder/methods/nope:infer",
			map[string]any{"instances": instances}, http.StatusNotFound},
		{"no instances", "/v1/servables/adder/methods/add:infer",
			map[string]any{"instances": []map[string]any{}}, http.StatusBadRequest},
		{"unknown field", "/v1/servables/adder/methods/add:infer",
			map[string]any{"bogus": true}, http.StatusBadRequest},
		{"shape mismatch", "/v1/servables/adder/methods/add:infer",
			map[string]any{"instances": []map[string]any{
				{"x": map[string]any{"shape": []int64{3}, "data": []float64{1, 2}}},
			}}, http.StatusBadRequest},
		{"text and data", "/v1/servables/adder/methods/add:infer",
			map[string]any{"instances": []map[string]any{
				{"x": map[string]any{"text": "hi", "data": []float64{1}}},
			}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tc.url, tc.body)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestHTTPInferBadJSON(t *testing.T) {
	srv := newTestHTTP(t)

	resp, err := http.Post(srv.URL+"/v1/servables/adder/methods/add:infer",
		"application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPInferMethodNotAllowed(t *testing.T) {
	srv := newTestHTTP(t)

	resp := getJSON(t, srv.URL+"/v1/servables/adder/methods/add:infer", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPListServables(t *testing.T) {
	srv := newTestHTTP(t)

	var body struct {
		Servables []struct {
			Name    string   `json:"name"`
			Methods []string `json:"methods"`
		} `json:"servables"`
	}
	resp := getJSON(t, srv.URL+"/v1/servables", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Servables, 1)
	assert.Equal(t, "adder", body.Servables[0].Name)
	assert.Equal(t, []string{"add"}, body.Servables[0].Methods)
}

func TestHTTPMetadata(t *testing.T) {
	srv := newTestHTTP(t)

	var body struct {
		Name     string  `json:"name"`
		Versions []int64 `json:"versions"`
	}
	resp := getJSON(t, srv.URL+"/v1/servables/adder", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "adder", body.Name)
	assert.Equal(t, []int64{1}, body.Versions)

	resp = getJSON(t, srv.URL+"/v1/servables/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPProbes(t *testing.T) {
	srv := newTestHTTP(t)

	var health struct {
		Serving   bool  `json:"serving"`
		Servables int64 `json:"servables"`
	}
	resp := getJSON(t, srv.URL+"/healthz", &health)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, health.Serving)
	assert.Equal(t, int64(1), health.Servables)

	resp = getJSON(t, srv.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

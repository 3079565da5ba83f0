package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/medrelay/internal/batch"
	"github.com/stiffinWanjohi/medrelay/internal/config"
	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/formats"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/pipeline"
	"github.com/stiffinWanjohi/medrelay/internal/processor"
	"github.com/stiffinWanjohi/medrelay/internal/ratelimit"
	"github.com/stiffinWanjohi/medrelay/internal/routing"
	"github.com/stiffinWanjohi/medrelay/internal/statsstore"
)

const (
	v2Message   = "MSH|^~\\&|HIS|RIH|EKG|EKG|199904140038||ADT^A01|MSG00001|P|2.5\rPID|||555-44-4444||EVERYWOMAN^EVE^E"
	v2Broken    = "MSH|^~\\&|HIS|RIH"
	fhirMessage = `{"resourceType":"Patient","id":"p1","active":true}`
	v3Message   = `<ClinicalDocument xmlns="urn:hl7-org:v3"><title>Note</title></ClinicalDocument>`
)

func testComponents(t *testing.T) Components {
	t.Helper()

	hs, err := formats.DefaultHandlers()
	require.NoError(t, err)

	router, err := routing.NewRouter(hs, routing.WithLogger(logging.Discard()))
	require.NoError(t, err)

	pl := pipeline.New(router,
		pipeline.WithValidators(pipeline.NotEmpty(), pipeline.MaxSize(1024)),
		pipeline.WithLogger(logging.Discard()),
	)
	return Components{
		Router:    router,
		Pipeline:  pl,
		Processor: processor.Wrap(pl, processor.WithLogger(logging.Discard())),
	}
}

func setupTestServer(t *testing.T, c Components, cfg ServerConfig) *Server {
	t.Helper()

	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = 1024
	}
	s, err := NewServer(c, cfg)
	require.NoError(t, err)
	s.logger = logging.Discard()
	return s
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer_RequiresComponents(t *testing.T) {
	full := testComponents(t)

	tests := []struct {
		name   string
		mutate func(c *Components)
		field  string
	}{
		{"router", func(c *Components) { c.Router = nil }, "router"},
		{"pipeline", func(c *Components) { c.Pipeline = nil }, "pipeline"},
		{"processor", func(c *Components) { c.Processor = nil }, "processor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := full
			tt.mutate(&c)

			_, err := NewServer(c, ServerConfig{})
			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestServer_Health(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{})

	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestServer_MetricsHandler(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("medrelay_up 1\n"))
	})
	s := setupTestServer(t, testComponents(t), ServerConfig{MetricsHandler: metrics})

	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "medrelay_up")

	without := setupTestServer(t, testComponents(t), ServerConfig{})
	assert.Equal(t, http.StatusNotFound, do(t, without, http.MethodGet, "/metrics", "").Code)
}

func TestServer_PostMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		success  bool
		msgType  domain.MessageType
		errCode  string
		hasError bool
	}{
		{name: "v2", body: v2Message, status: http.StatusOK, success: true, msgType: domain.MessageTypeV2},
		{name: "v3", body: v3Message, status: http.StatusOK, success: true, msgType: domain.MessageTypeV3},
		{name: "fhir", body: fhirMessage, status: http.StatusOK, success: true, msgType: domain.MessageTypeFHIR},
		{name: "handler failure", body: v2Broken, status: http.StatusOK, msgType: domain.MessageTypeV2, hasError: true},
		{name: "unrecognized", body: "hello world", status: http.StatusUnprocessableEntity, errCode: "UNRECOGNIZED_FORMAT"},
		{name: "empty", body: "", status: http.StatusBadRequest, errCode: "EMPTY_PAYLOAD"},
		{name: "too large", body: "MSH|" + strings.Repeat("x", 2048), status: http.StatusRequestEntityTooLarge, errCode: "PAYLOAD_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, testComponents(t), ServerConfig{})

			rec := do(t, s, http.MethodPost, "/v1/messages", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.errCode != "" {
				assert.Equal(t, tt.errCode, decode[map[string]string](t, rec)["code"])
				return
			}
			resp := decode[MessageResponse](t, rec)
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.msgType, resp.Type)
			assert.Equal(t, len(tt.body), resp.Size)
			assert.Equal(t, tt.hasError, resp.Error != "")
			if tt.success {
				assert.NotNil(t, resp.Document)
			}
		})
	}
}

func TestServer_PostMessage_UpdatesStats(t *testing.T) {
	c := testComponents(t)
	s := setupTestServer(t, c, ServerConfig{})

	for _, body := range []string{v2Message, v2Message, fhirMessage, v2Broken, "hello"} {
		do(t, s, http.MethodPost, "/v1/messages", body)
	}

	rec := do(t, s, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decode[statsstore.Snapshot](t, rec)
	assert.Equal(t, uint64(2), snap.Routed[domain.MessageTypeV2])
	assert.Equal(t, uint64(1), snap.Routed[domain.MessageTypeFHIR])
	assert.Equal(t, uint64(1), snap.Failed[domain.MessageTypeV2])
	assert.Equal(t, uint64(5), snap.Processor.MessagesProcessed)
	assert.Equal(t, uint64(2), snap.Processor.ErrorCount)
	assert.Equal(t, uint64(3), snap.Pipeline.SuccessCount)
	assert.Equal(t, uint64(2), snap.Pipeline.FailureCount)
	assert.Zero(t, snap.Active)
}

func TestServer_StatsReset(t *testing.T) {
	c := testComponents(t)
	s := setupTestServer(t, c, ServerConfig{})

	do(t, s, http.MethodPost, "/v1/messages", v2Message)
	require.Equal(t, uint64(1), c.Router.Statistics()[domain.MessageTypeV2])

	rec := do(t, s, http.MethodPost, "/v1/stats/reset", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Empty(t, c.Router.Statistics())
	assert.Zero(t, c.Processor.Metrics().MessagesProcessed)
	assert.Zero(t, c.Pipeline.Metrics().TotalProcessed)
}

func TestServer_Batch(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{MaxConcurrency: 4})

	body, err := json.Marshal(BatchRequest{
		Messages:    []string{v2Message, "garbage", fhirMessage, v2Broken, v3Message},
		Concurrency: 2,
	})
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/v1/messages/batch", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[BatchResponse](t, rec)
	require.Len(t, resp.Results, 5)
	assert.Equal(t, 3, resp.Succeeded)
	assert.Equal(t, 2, resp.Failed)
	assert.Empty(t, resp.Aborted)

	wantTypes := []domain.MessageType{
		domain.MessageTypeV2, domain.MessageTypeUnknown, domain.MessageTypeFHIR,
		domain.MessageTypeV2, domain.MessageTypeV3,
	}
	for i, res := range resp.Results {
		assert.Equal(t, wantTypes[i], res.Type, "item %d", i)
	}
	assert.False(t, resp.Results[1].Success)
	assert.Contains(t, resp.Results[1].Error, "no known message signature")
}

func TestServer_Batch_FailFast(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{MaxConcurrency: 4, BatchPolicy: batch.CollectAll})

	body, err := json.Marshal(BatchRequest{
		Messages:    []string{"garbage", v2Message, v2Message, v2Message},
		Concurrency: 1,
		Policy:      "fail_fast",
	})
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/v1/messages/batch", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[BatchResponse](t, rec)
	require.Len(t, resp.Results, 4)
	assert.Equal(t, 0, resp.Succeeded)
	assert.Contains(t, resp.Aborted, "no known message signature")
	for _, res := range resp.Results[1:] {
		assert.Contains(t, res.Error, domain.ErrBatchAborted.Error())
	}
}

func TestServer_Batch_BadRequests(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", "{", "BAD_REQUEST"},
		{"no messages", `{"messages":[]}`, "BAD_REQUEST"},
		{"unknown policy", `{"messages":["x"],"policy":"sometimes"}`, "INVALID_POLICY"},
		{"negative concurrency", `{"messages":["x"],"concurrency":-1}`, "INVALID_CONCURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/messages/batch", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[map[string]string](t, rec)["code"])
		})
	}
}

func readNDJSON(t *testing.T, body *bytes.Buffer) []MessageResponse {
	t.Helper()

	var out []MessageResponse
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		var r MessageResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestServer_StreamLines(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{})

	body := strings.Join([]string{v2Message, "", fhirMessage, "junk", v3Message}, "\n") + "\n"
	rec := do(t, s, http.MethodPost, "/v1/stream", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	results := readNDJSON(t, rec.Body)
	require.Len(t, results, 4)
	assert.Equal(t, []bool{true, true, false, true},
		[]bool{results[0].Success, results[1].Success, results[2].Success, results[3].Success})
	assert.Equal(t, domain.MessageTypeFHIR, results[1].Type)

	want := int64(len(v2Message) + len(fhirMessage) + len("junk") + len(v3Message))
	assert.Equal(t, want, s.Snapshot().StreamPosition)
}

func TestServer_StreamChunks(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{})

	rec := do(t, s, http.MethodPost, "/v1/stream?mode=chunks&size="+strconv.Itoa(len(fhirMessage)), fhirMessage+fhirMessage)
	require.Equal(t, http.StatusOK, rec.Code)

	results := readNDJSON(t, rec.Body)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, domain.MessageTypeFHIR, r.Type)
	}
}

func TestServer_StreamBadMode(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{})

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/stream?mode=xml", "x").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/stream?mode=chunks&size=0", "x").Code)
}

func TestServer_Stream_LargeBodyOverHTTP(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	const n = 5000
	body := strings.Repeat(fhirMessage+"\n", n)
	require.Greater(t, len(body), 256<<10)

	resp, err := http.Post(ts.URL+"/v1/stream", "application/x-ndjson", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)

	results := readNDJSON(t, &buf)
	require.Len(t, results, n)
	for _, r := range results {
		require.True(t, r.Success, r.Error)
	}
	assert.Equal(t, int64(n*len(fhirMessage)), s.Snapshot().StreamPosition)
}

func TestServer_Stream_LineTooLong(t *testing.T) {
	s := setupTestServer(t, testComponents(t), ServerConfig{MaxPayloadSize: 64})

	body := fhirMessage + "\n" + strings.Repeat("a", 100) + "\n" + fhirMessage + "\n"
	rec := do(t, s, http.MethodPost, "/v1/stream", body)
	require.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)

	var first MessageResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.True(t, first.Success)

	var last StreamError
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.False(t, last.Success)
	assert.Equal(t, "LINE_TOO_LONG", last.Code)
	assert.Contains(t, last.Error, "too long")
}

func TestServer_StatsHistory(t *testing.T) {
	t.Run("without store", func(t *testing.T) {
		s := setupTestServer(t, testComponents(t), ServerConfig{})
		rec := do(t, s, http.MethodGet, "/v1/stats/history", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("with store", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		c := testComponents(t)
		c.Store = statsstore.NewStore(client, statsstore.WithKeyPrefix("test"))
		s := setupTestServer(t, c, ServerConfig{})

		do(t, s, http.MethodPost, "/v1/messages", v2Message)
		require.NoError(t, c.Store.Publish(context.Background(), s.Snapshot()))
		require.NoError(t, c.Store.Publish(context.Background(), s.Snapshot()))

		rec := do(t, s, http.MethodGet, "/v1/stats/history?limit=1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Snapshots []statsstore.Snapshot `json:"snapshots"`
			Total     int                   `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, uint64(1), resp.Snapshots[0].Routed[domain.MessageTypeV2])

		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/stats/history?limit=0", "").Code)
	})
}

func TestServer_RateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := testComponents(t)
	c.Limiter = ratelimit.New(client, ratelimit.WithWindow(time.Minute))
	s := setupTestServer(t, c, ServerConfig{ClientRateLimit: 2})

	for range 2 {
		rec := do(t, s, http.MethodPost, "/v1/messages", v2Message, ClientIDHeader, "lab-a")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, s, http.MethodPost, "/v1/messages", v2Message, ClientIDHeader, "lab-a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	rec = do(t, s, http.MethodPost, "/v1/messages", v2Message, ClientIDHeader, "lab-b")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Stats are not throttled.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/stats", "", ClientIDHeader, "lab-a").Code)
}

func TestServerConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.BatchPolicy = config.BatchPolicyFailFast
	cfg.API.RateLimit = 100

	sc, err := ServerConfigFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, batch.FailFast, sc.BatchPolicy)
	assert.Equal(t, cfg.Processing.MaxPayloadSize, sc.MaxPayloadSize)
	assert.Equal(t, 100, sc.RateLimit)

	cfg.Processing.BatchPolicy = "sometimes"
	_, err = ServerConfigFrom(cfg)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

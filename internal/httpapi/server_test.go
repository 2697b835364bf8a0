package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicebridge/voicebridge/internal/archive"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/delivery"
	"github.com/voicebridge/voicebridge/internal/llm"
	"github.com/voicebridge/voicebridge/internal/monitor"
	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/pipeline"
	"github.com/voicebridge/voicebridge/internal/protocol"
	"github.com/voicebridge/voicebridge/internal/session"
	"github.com/voicebridge/voicebridge/internal/turn"
)

var (
	metricsOnce sync.Once
	metricsInst *observability.Metrics
)

func testMetrics() *observability.Metrics {
	metricsOnce.Do(func() { metricsInst = observability.NewMetrics("httpapi_test") })
	return metricsInst
}

type testStack struct {
	server *httptest.Server
	store  *archive.InMemoryStore
}

func newTestStack(t *testing.T, tokens ...string) *testStack {
	t.Helper()
	cfg := config.Config{AllowAnyOrigin: true}
	metrics := testMetrics()
	registry := session.NewRegistry(20)
	fanout := delivery.NewFanout()
	store := archive.NewInMemoryStore()
	pub := monitor.New(monitor.Config{}, metrics, zerolog.Nop())
	backend := llm.NewScriptedBackend(tokens...)
	coord := pipeline.New(pipeline.Config{MaxActiveTurns: 4}, registry, backend, fanout, pub, store, metrics, zerolog.Nop())

	detector := turn.NewDetector(registry, nil)
	buffer := turn.NewBuffer(detector, coord, metrics, zerolog.Nop(), 64)
	ctx, cancel := context.WithCancel(context.Background())
	go buffer.Run(ctx)

	srv := New(cfg, buffer, fanout, registry, store, pub, metrics, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		coord.Wait()
	})
	return &testStack{server: ts, store: store}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestHealthEndpoints(t *testing.T) {
	stack := newTestStack(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(stack.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestPerfLatencySnapshotShape(t *testing.T) {
	stack := newTestStack(t)

	res, err := http.Get(stack.server.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := payload["stages"]; !ok {
		t.Fatalf("missing stages in response: %+v", payload)
	}
	if _, ok := payload["generated_at"]; !ok {
		t.Fatalf("missing generated_at in response: %+v", payload)
	}
}

func TestTranscriptIngestToAudioDelivery(t *testing.T) {
	stack := newTestStack(t, "All", " good.")

	audio, _, err := websocket.DefaultDialer.Dial(wsURL(stack.server, "/v1/audio/ws?uid=u1"), nil)
	if err != nil {
		t.Fatalf("dial audio ws: %v", err)
	}
	defer audio.Close()

	ingest, _, err := websocket.DefaultDialer.Dial(wsURL(stack.server, "/v1/transcripts/ws"), nil)
	if err != nil {
		t.Fatalf("dial transcript ws: %v", err)
	}
	defer ingest.Close()

	// The buffer collapses backlog to the freshest event, so space the frames
	// out the way a live transcriber would. A duplicate end-of-speech frame
	// cannot commit a second turn; pending text is consumed on commit.
	events := []protocol.TranscriptEvent{
		{UID: "u1", Prompt: "hello there", EOS: false},
		{UID: "u1", Prompt: "hello there", EOS: true},
		{UID: "u1", Prompt: "hello there", EOS: true},
	}
	for _, evt := range events {
		if err := ingest.WriteJSON(evt); err != nil {
			t.Fatalf("write transcript: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	_ = audio.SetReadDeadline(time.Now().Add(3 * time.Second))
	var job protocol.AudioJob
	if err := audio.ReadJSON(&job); err != nil {
		t.Fatalf("read audio job: %v", err)
	}
	if job.UID != "u1" {
		t.Fatalf("job.UID = %q, want %q", job.UID, "u1")
	}
	if job.Text != "All good." {
		t.Fatalf("job.Text = %q, want %q", job.Text, "All good.")
	}
	if job.MessageID != 1 {
		t.Fatalf("job.MessageID = %d, want 1", job.MessageID)
	}
}

func TestTranscriptWSRejectsMalformedFrame(t *testing.T) {
	stack := newTestStack(t)

	ingest, _, err := websocket.DefaultDialer.Dial(wsURL(stack.server, "/v1/transcripts/ws"), nil)
	if err != nil {
		t.Fatalf("dial transcript ws: %v", err)
	}
	defer ingest.Close()

	if err := ingest.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	_ = ingest.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp errorResponse
	if err := ingest.ReadJSON(&resp); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if resp.Code != "invalid_transcript" {
		t.Fatalf("resp.Code = %q, want %q", resp.Code, "invalid_transcript")
	}
}

func TestAudioWSRequiresUID(t *testing.T) {
	stack := newTestStack(t)

	res, err := http.Get(stack.server.URL + "/v1/audio/ws")
	if err != nil {
		t.Fatalf("GET /v1/audio/ws error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestRecentExchangesEndpoint(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()
	for _, content := range []string{"hi", "hello back"} {
		err := stack.store.SaveExchange(ctx, archive.ExchangeRecord{UID: "u1", Role: "user", Content: content})
		if err != nil {
			t.Fatalf("SaveExchange: %v", err)
		}
	}

	res, err := http.Get(stack.server.URL + "/v1/sessions/u1/exchanges?limit=1")
	if err != nil {
		t.Fatalf("GET exchanges error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload struct {
		UID       string                   `json:"uid"`
		Exchanges []archive.ExchangeRecord `json:"exchanges"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Exchanges) != 1 {
		t.Fatalf("len(exchanges) = %d, want 1", len(payload.Exchanges))
	}
	if payload.Exchanges[0].Content != "hello back" {
		t.Fatalf("content = %q, want the most recent exchange", payload.Exchanges[0].Content)
	}

	badRes, err := http.Get(stack.server.URL + "/v1/sessions/u1/exchanges?limit=0")
	if err != nil {
		t.Fatalf("GET exchanges error = %v", err)
	}
	badRes.Body.Close()
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d, want %d", badRes.StatusCode, http.StatusBadRequest)
	}
}

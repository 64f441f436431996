package api

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"

	"github.com/tospeech/server/internal/dispatch"
	"github.com/tospeech/server/internal/gateway"
	"github.com/tospeech/server/internal/history"
	"github.com/tospeech/server/internal/queue"
	"github.com/tospeech/server/internal/state"
)

// testServer bundles the HTTP server with the stores the tests poke directly.
type testServer struct {
	srv     *Server
	state   *state.Store
	history history.Store
	signer  *gateway.Signer

	artifactDir string
	modelsDir   string
	voicesDir   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsSrv := natstest.RunServer(&opts)

	nc, err := nats.Connect(natsSrv.ClientURL())
	if err != nil {
		t.Fatalf("connect to test NATS server: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		natsSrv.Shutdown()
	})

	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream context: %v", err)
	}

	st, err := state.New(js, time.Hour)
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	q, err := queue.New(nc, js)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	hist, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	artifactDir := t.TempDir()
	modelsDir := t.TempDir()
	voicesDir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	signer := gateway.NewSigner("test-secret", artifactDir, time.Hour)
	d := dispatch.New(st, q, logger)

	return &testServer{
		srv:         NewServer(":0", d, hist, signer, modelsDir, voicesDir, logger),
		state:       st,
		history:     hist,
		signer:      signer,
		artifactDir: artifactDir,
		modelsDir:   modelsDir,
		voicesDir:   voicesDir,
	}
}

func (ts *testServer) httpServer(t *testing.T) *httptest.Server {
	t.Helper()
	hs := httptest.NewServer(ts.srv.Router())
	t.Cleanup(hs.Close)
	return hs
}

func (ts *testServer) writeArtifact(t *testing.T, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(ts.artifactDir, name), data, 0o600); err != nil {
		t.Fatalf("write artifact fixture: %v", err)
	}
}

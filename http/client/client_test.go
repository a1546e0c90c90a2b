package client

import (
	"context"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chzchzchz/momentrx/config"
	mhttp "github.com/chzchzchz/momentrx/http"
	"github.com/chzchzchz/momentrx/momentrx"
)

const testConfig = `
pulse: {depth: 1024, gates: 16}
ray: {depth: 64}
compress: {plan_backend: gonum}
moment: {idle_flush: 50ms}
source: {prf: 2000, rpm: 10, noise: 1}
`

func serve(t *testing.T) (*momentrx.Pipeline, *Client) {
	path := filepath.Join(t.TempDir(), "momentrx.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p, err := momentrx.New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- p.Serve(ctx) }()
	srv := httptest.NewServer(mhttp.Handler(p, nil))
	u, _ := url.Parse(srv.URL)
	c := New(*u)
	t.Cleanup(func() {
		c.Close()
		srv.Close()
		cancel()
		if err := <-errc; err != nil {
			t.Error(err)
		}
		p.Close()
	})
	return p, c
}

func TestRayStream(t *testing.T) {
	p, c := serve(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	tm, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tm.Id != p.Id.String() {
		t.Fatalf("status of run %q, want %q", tm.Id, p.Id)
	}

	rayc, err := c.Rays(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var last uint64
	for i := 0; i < 5; i++ {
		msg, ok := <-rayc
		if !ok {
			t.Fatalf("stream ended after %d rays", i)
		}
		if i > 0 && msg.Seq <= last {
			t.Fatalf("ray %d after %d", msg.Seq, last)
		}
		last = msg.Seq
		if len(msg.Display["Z"]) != msg.Gates {
			t.Fatalf("ray %d: %d Z gates, want %d", msg.Seq, len(msg.Display["Z"]), msg.Gates)
		}
	}
	cancel()
	for range rayc {
	}
}

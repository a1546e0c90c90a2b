package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/chzchzchz/momentrx/momentrx"
)

type Config struct {
	Endpoint url.URL
}

// Client reads telemetry and ray streams from a momentrx http server.
type Client struct {
	Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ep url.URL) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{Config: Config{ep}, ctx: ctx, cancel: cancel}
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint.String()+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %s", path, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (tm momentrx.Telemetry, err error) {
	resp, err := c.get(ctx, "/api/status")
	if err != nil {
		return tm, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return tm, err
	}
	err = json.Unmarshal(b, &tm)
	return tm, err
}

// Rays streams rays until ctx is done, the client is closed or the server
// ends the stream; the channel is closed then.
func (c *Client) Rays(ctx context.Context) (<-chan momentrx.RayMessage, error) {
	sctx, cancel := context.WithCancel(ctx)
	resp, err := c.get(sctx, "/api/rays")
	if err != nil {
		cancel()
		return nil, err
	}
	rayc := make(chan momentrx.RayMessage)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		select {
		case <-sctx.Done():
		case <-c.ctx.Done():
			cancel()
		}
	}()
	go func() {
		defer func() {
			cancel()
			resp.Body.Close()
			close(rayc)
			c.wg.Done()
		}()
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(nil, 1<<24)
		for sc.Scan() {
			var msg momentrx.RayMessage
			if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
				return
			}
			select {
			case rayc <- msg:
			case <-sctx.Done():
				return
			}
		}
	}()
	return rayc, nil
}

func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	http.DefaultClient.CloseIdleConnections()
	return nil
}

// syncctl is a small control client for a running sync daemon: inspect queue
// and connectivity state, trigger a drain pass, or clear pending operations.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"driftsync/internal/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr    = flag.String("addr", "http://127.0.0.1:8080", "base URL of the control API")
		key     = flag.String("key", os.Getenv("DRIFTSYNC_API_KEY"), "API key (defaults to DRIFTSYNC_API_KEY)")
		timeout = flag.Duration("timeout", 10*time.Second, "request timeout")
	)
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		return fmt.Errorf("usage: syncctl [flags] status|queue|sync|clear")
	}

	client := &controlClient{
		base: strings.TrimRight(*addr, "/"),
		key:  *key,
		http: &http.Client{Timeout: *timeout},
	}

	switch command {
	case "status":
		return client.status()
	case "queue":
		return client.queue()
	case "sync":
		return client.sync()
	case "clear":
		return client.clear()
	default:
		return fmt.Errorf("unknown command %q; expected status|queue|sync|clear", command)
	}
}

type controlClient struct {
	base string
	key  string
	http *http.Client
}

func (c *controlClient) status() error {
	var body struct {
		Online  bool `json:"online"`
		Syncing bool `json:"syncing"`
		Pending int  `json:"pending"`
	}
	if err := c.call(http.MethodGet, "/api/v1/status", &body); err != nil {
		return err
	}
	fmt.Printf("online=%t syncing=%t pending=%d\n", body.Online, body.Syncing, body.Pending)
	return nil
}

func (c *controlClient) queue() error {
	var body struct {
		Count      int                       `json:"count"`
		Operations []models.PendingOperation `json:"operations"`
	}
	if err := c.call(http.MethodGet, "/api/v1/queue", &body); err != nil {
		return err
	}

	if body.Count == 0 {
		fmt.Println("queue is empty")
		return nil
	}
	for _, op := range body.Operations {
		line := fmt.Sprintf("%s %s entity=%s retries=%d", op.ID, op.Type, op.EntityID, op.RetryCount)
		if op.Date != "" {
			line += " date=" + op.Date
		}
		fmt.Println(line)
	}
	fmt.Printf("total: %d\n", body.Count)
	return nil
}

func (c *controlClient) sync() error {
	resp, data, err := c.do(http.MethodPost, "/api/v1/sync")
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Println("sync triggered")
		return nil
	case http.StatusConflict:
		return fmt.Errorf("sync not triggered: daemon is offline")
	default:
		return apiError(resp.Status, data)
	}
}

func (c *controlClient) clear() error {
	if err := c.call(http.MethodPost, "/api/v1/queue/clear", nil); err != nil {
		return err
	}
	fmt.Println("queue cleared")
	return nil
}

func (c *controlClient) call(method, path string, out any) error {
	resp, data, err := c.do(method, path)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp.Status, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *controlClient) do(method, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, c.base+path, http.NoBody)
	if err != nil {
		return nil, nil, err
	}
	if c.key != "" {
		req.Header.Set("x-api-key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, data, nil
}

func apiError(status string, data []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", status, body.Error)
	}
	return fmt.Errorf("request failed: %s", status)
}

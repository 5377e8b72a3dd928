// Package main provides the container healthcheck for plots-server. It
// probes the readiness endpoint and exits 0 on a 2xx answer, 1 otherwise.
//
// Usage: healthcheck [url]
//
// The URL defaults to PLOTS_HEALTHCHECK_URL, then http://localhost:8080/readyz.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

func targetURL(args []string) string {
	if len(args) > 1 && args[1] != "" {
		return args[1]
	}
	if v := os.Getenv("PLOTS_HEALTHCHECK_URL"); v != "" {
		return v
	}
	return defaultURL
}

// check returns nil when url answers 2xx. Otherwise the error carries the
// status reported by the server when the body has one.
func check(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Status string `json:"status"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil && body.Status != "" {
		return fmt.Errorf("status %d (%s)", resp.StatusCode, body.Status)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func main() {
	client := &http.Client{Timeout: 5 * time.Second}
	if err := check(client, targetURL(os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
}

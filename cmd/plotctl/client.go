package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const apiPrefix = "/api/plots/v1"

// apiError is an error answer of the plots API.
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type plotsClient struct {
	baseURL string
	http    *http.Client
	headers http.Header
}

func newClient() *plotsClient {
	h := http.Header{}
	if company != "" {
		h.Set("X-Company-ID", company)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if user != "" {
		h.Set("X-Remote-User", user)
	}
	roles := groups
	if len(roles) == 0 && os.Getenv("PLOTS_ROLES") != "" {
		roles = strings.Split(os.Getenv("PLOTS_ROLES"), ",")
	}
	for _, g := range roles {
		h.Add("X-Remote-Group", strings.TrimSpace(g))
	}
	return &plotsClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: h,
	}
}

// do sends body as JSON and decodes a JSON answer into v. Either may be nil.
func (c *plotsClient) do(method, path string, body, v any) error {
	raw, err := c.doRaw(method, path, body)
	if err != nil {
		return err
	}
	if v == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

// doRaw performs the request and returns the response body of a 2xx answer.
func (c *plotsClient) doRaw(method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to plots server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &errResp) == nil && errResp.Message != "" {
			apiErr.Kind = errResp.Error
			apiErr.Message = errResp.Message
		}
		return nil, apiErr
	}
	return data, nil
}

func (c *plotsClient) get(path string, v any) error {
	return c.do(http.MethodGet, apiPrefix+path, nil, v)
}

func (c *plotsClient) post(path string, body, v any) error {
	if body == nil {
		body = struct{}{}
	}
	return c.do(http.MethodPost, apiPrefix+path, body, v)
}

func (c *plotsClient) delete(path string) error {
	return c.do(http.MethodDelete, apiPrefix+path, nil, nil)
}

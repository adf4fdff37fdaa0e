package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIURL     = "http://127.0.0.1:4850"
	defaultAPITimeout = 30 * time.Second
)

type apiFlags struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// apiClient is a thin JSON client for the daemon API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(f *apiFlags) *apiClient {
	return &apiClient{
		base:  strings.TrimSuffix(f.URL, "/"),
		token: f.Token,
		http:  &http.Client{Timeout: f.Timeout},
	}
}

// do performs one request and decodes the JSON response into out when
// out is non-nil. Non-2xx responses become errors carrying the server's
// error message.
func (c *apiClient) do(method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			if e.Code != "" {
				return fmt.Errorf("%s (%s)", e.Error, e.Code)
			}
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func queryInt(key string, v int) string {
	return key + "=" + url.QueryEscape(fmt.Sprint(v))
}

// printJSON renders any API response for the terminal.
func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}

package clients

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

var errReturnedNotFound = errors.New("downstream service returned status 404")

// httpClient is the shared request helper for all downstream services.
// Calls are single-shot and unretried; callers apply their own deadline
// policy through the injected http.Client.
type httpClient struct {
	addr   string
	apiKey string
	client *http.Client
}

func newHttpClient(addr, apiKey string, client *http.Client) httpClient {
	if client == nil {
		client = http.DefaultClient
	}
	return httpClient{addr: addr, apiKey: apiKey, client: client}
}

func (c *httpClient) request(method, endpoint string, body interface{}, result interface{}) error {
	// split any query string off before joining, JoinPath escapes it otherwise
	path, rawQuery, _ := strings.Cut(endpoint, "?")

	fullEndpoint, err := url.JoinPath(c.addr, path)
	if err != nil {
		return fmt.Errorf("error formatting url for endpoint %v: %w", endpoint, err)
	}
	if rawQuery != "" {
		fullEndpoint += "?" + rawQuery
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding body for endpoint %v: %w", endpoint, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, fullEndpoint, reqBody)
	if err != nil {
		return fmt.Errorf("error creating %v request for endpoint %v: %w", method, endpoint, err)
	}
	req.Header.Add("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Add("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending %v request to endpoint %v: %w", method, endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return errReturnedNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, err := io.ReadAll(res.Body)
		if err == nil {
			slog.Error("downstream service returned error", "method", method, "endpoint", endpoint, "code", res.StatusCode, "response", string(data))
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d", method, endpoint, res.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(res.Body).Decode(result); err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", method, endpoint, err)
		}
	}

	return nil
}

func (c *httpClient) get(endpoint string, result interface{}) error {
	return c.request("GET", endpoint, nil, result)
}

// getWithQuery issues a GET with the given query parameters attached.
func (c *httpClient) getWithQuery(endpoint string, params url.Values, result interface{}) error {
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return c.request("GET", endpoint, nil, result)
}

func (c *httpClient) post(endpoint string, body interface{}, result interface{}) error {
	return c.request("POST", endpoint, body, result)
}

func (c *httpClient) delete(endpoint string) error {
	return c.request("DELETE", endpoint, nil, nil)
}

// raw issues a request and returns the status and body verbatim, for
// endpoints whose response is proxied to the caller.
func (c *httpClient) raw(method, endpoint string) (int, []byte, error) {
	fullEndpoint, err := url.JoinPath(c.addr, endpoint)
	if err != nil {
		return 0, nil, fmt.Errorf("error formatting url for endpoint %v: %w", endpoint, err)
	}

	req, err := http.NewRequest(method, fullEndpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("error creating %v request for endpoint %v: %w", method, endpoint, err)
	}
	if c.apiKey != "" {
		req.Header.Add("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("error sending %v request to endpoint %v: %w", method, endpoint, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("error reading %v response from endpoint %v: %w", method, endpoint, err)
	}

	return res.StatusCode, body, nil
}

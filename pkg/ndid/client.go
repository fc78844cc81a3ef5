// Package ndid is the outbound client for the NDID platform's RP/IdP REST
// surface. Every call is treated as an opaque asynchronous RPC: the platform
// acknowledges the request and reports the outcome later through a callback.
package ndid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crossknight/examples/pkg/httpx"
)

type Client struct {
	HTTP       *http.Client
	BaseURL    string
	Headers    map[string]string
	Retries    int
	RetryDelay time.Duration
}

// CallbackURLs registers where the platform pushes IdP-side callbacks.
type CallbackURLs struct {
	IncomingRequestURL string `json:"incoming_request_url,omitempty"`
	AccessorEncryptURL string `json:"accessor_encrypt_url,omitempty"`
}

type DataRequest struct {
	ServiceID     string   `json:"service_id"`
	AsIDList      []string `json:"as_id_list"`
	MinAs         int      `json:"min_as"`
	RequestParams string   `json:"request_params,omitempty"`
}

type CreateRequestParams struct {
	Mode                int           `json:"mode"`
	Namespace           string        `json:"-"`
	Identifier          string        `json:"-"`
	ReferenceID         string        `json:"reference_id"`
	IdpIDList           []string      `json:"idp_id_list"`
	CallbackURL         string        `json:"callback_url"`
	DataRequestList     []DataRequest `json:"data_request_list"`
	RequestMessage      string        `json:"request_message"`
	MinIal              float64       `json:"min_ial"`
	MinAal              float64       `json:"min_aal"`
	MinIdp              int           `json:"min_idp"`
	RequestTimeout      int           `json:"request_timeout"`
	BypassIdentityCheck bool          `json:"bypass_identity_check"`
}

type CreateRequestResult struct {
	RequestID string `json:"request_id"`
}

type CloseRequestParams struct {
	ReferenceID string `json:"reference_id"`
	CallbackURL string `json:"callback_url"`
	RequestID   string `json:"request_id"`
}

// SetCallbackURLs registers this service's webhook endpoints with the
// platform. Omitted URLs keep their current value on the platform side.
func (c *Client) SetCallbackURLs(ctx context.Context, urls CallbackURLs) error {
	return c.call(ctx, http.MethodPost, "/idp/callback", urls, nil)
}

// CreateRequest starts a verification request for the given identity.
func (c *Client) CreateRequest(ctx context.Context, params CreateRequestParams) (CreateRequestResult, error) {
	var result CreateRequestResult
	if params.Namespace == "" || params.Identifier == "" {
		return result, errors.New("ndid: namespace and identifier required")
	}
	path := "/rp/requests/" + url.PathEscape(params.Namespace) + "/" + url.PathEscape(params.Identifier)
	err := c.call(ctx, http.MethodPost, path, params, &result)
	return result, err
}

// CloseRequest closes a request before it times out. The outcome arrives
// asynchronously at params.CallbackURL as a close_request_result callback.
func (c *Client) CloseRequest(ctx context.Context, params CloseRequestParams) error {
	return c.call(ctx, http.MethodPost, "/rp/request_close", params, nil)
}

// GetDataFromAS fetches the data released by Authoritative Sources for a
// completed request.
func (c *Client) GetDataFromAS(ctx context.Context, requestID string) (json.RawMessage, error) {
	var data json.RawMessage
	if requestID == "" {
		return nil, errors.New("ndid: request id required")
	}
	err := c.call(ctx, http.MethodGet, "/rp/request_data/"+url.PathEscape(requestID), nil, &data)
	return data, err
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	if c.BaseURL == "" {
		return errors.New("ndid: base URL is empty")
	}
	var body []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ndid: marshal request: %w", err)
		}
		body = raw
	}
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + path
	status, respBody, err := httpx.RequestJSON(ctx, client, method, endpoint, body, c.Headers, c.Retries, c.RetryDelay)
	if err != nil {
		return fmt.Errorf("ndid: %s %s: %w", method, path, err)
	}
	if status >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fmt.Errorf("ndid: %s %s: status %d: %s", method, path, status, msg)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("ndid: decode response: %w", err)
		}
	}
	return nil
}

package drivers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubertat/httpblinds/position"
	"github.com/pkg/errors"
)

const httpDeviceNetClientTimeout = position.RequestTimeout

// responses longer than this are cut before parsing, devices answer with a single integer
const httpDeviceMaxBody = 4096

// HttpDevice talks to a blinds device exposing plain text position endpoints.
type HttpDevice struct {
	Timeout time.Duration

	netClient *http.Client
}

func NewHttpDevice(timeout time.Duration) *HttpDevice {
	if timeout <= 0 {
		timeout = httpDeviceNetClientTimeout
	}

	return &HttpDevice{
		Timeout: timeout,
		netClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (hd *HttpDevice) client() *http.Client {
	if hd.netClient == nil {
		return NewHttpDevice(hd.Timeout).netClient
	}
	return hd.netClient
}

func (hd *HttpDevice) do(ctx context.Context, url, method string) (body string, err error) {
	if len(method) == 0 {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, nil)
	if err != nil {
		err = errors.Wrapf(position.ErrTransport, "preparing request failed: %v", err)
		return
	}

	response, err := hd.client().Do(req)
	if err != nil {
		err = errors.Wrapf(position.ErrTransport, "sending request failed: %v", err)
		return
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, httpDeviceMaxBody))
	if err != nil {
		err = errors.Wrapf(position.ErrTransport, "reading response failed: %v", err)
		return
	}
	body = string(raw)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		err = errors.Wrapf(position.ErrTransport, "%s %s responded with %d: %s", method, url, response.StatusCode, position.StripNewlines(body))
	}
	return
}

// Get returns the raw response body of url.
func (hd *HttpDevice) Get(ctx context.Context, url, method string) (string, error) {
	return hd.do(ctx, url, method)
}

// Set calls url and discards the response body.
func (hd *HttpDevice) Set(ctx context.Context, url, method string) error {
	_, err := hd.do(ctx, url, method)
	return err
}

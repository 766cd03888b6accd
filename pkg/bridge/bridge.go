// Package bridge serves a downstream application that speaks net/http
// requests and responses from inside a fasthttp host.
//
// A call goes through three steps: the fasthttp request is translated to an
// *http.Request (NewRequest), the application produces an *http.Response
// (App.Handle), and that response is written back onto the fasthttp context
// (WriteResponse). The bridge keeps no state between calls and adds no
// retries, timeouts or caching.
package bridge

import (
	"errors"

	"github.com/valyala/fasthttp"

	"kitbridge/pkg/telemetry"
)

var (
	// ErrNoApp is returned by New when Config.App is nil.
	ErrNoApp = errors.New("bridge: no downstream app configured")
	// ErrNilResponse is returned when an App reports success without a
	// response.
	ErrNilResponse = errors.New("bridge: app returned a nil response")
)

// Config selects the downstream application and the request options used to
// translate requests for it.
type Config struct {
	App App
	RequestOptions
}

// Handler serves one request. Errors returned by the application are passed
// through unchanged so the host's error handling decides what the client
// sees.
type Handler func(ctx *fasthttp.RequestCtx) error

// New returns the handler serving cfg.App.
func New(cfg Config) (Handler, error) {
	if cfg.App == nil {
		return nil, ErrNoApp
	}
	app := cfg.App
	opts := cfg.RequestOptions
	return func(ctx *fasthttp.RequestCtx) error {
		tr := telemetry.Track("bridge.serve")
		defer tr.Finish()

		req, err := NewRequest(ctx, opts)
		if err != nil {
			return err
		}
		tr.Mark("translate_request")

		res, err := app.Handle(req)
		tr.Mark("app_handle")
		if err != nil {
			return err
		}
		if res == nil {
			return ErrNilResponse
		}

		WriteResponse(ctx, res)
		tr.Mark("translate_response")
		return nil
	}, nil
}

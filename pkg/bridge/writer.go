package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"

	"kitbridge/pkg/logger"
)

// FromHandler returns an App that runs h. The response is returned as soon
// as h commits its headers, with a body that streams whatever h writes
// afterwards. A panic raised by h before headers are committed is re-raised
// in the goroutine that called Handle; a later panic aborts the body stream.
// Closing the response body cancels the request context seen by h.
func FromHandler(h http.Handler) App {
	return handlerApp{h: h}
}

type handlerApp struct {
	h http.Handler
}

type handlerResult struct {
	res      *http.Response
	panicked any
}

func (a handlerApp) Handle(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	pr, pw := io.Pipe()
	w := &streamWriter{
		req:    req,
		header: make(http.Header),
		pw:     pw,
		body:   &pipeBody{PipeReader: pr, cancel: cancel},
		cancel: cancel,
		out:    make(chan handlerResult, 1),
	}

	go func() {
		defer func() {
			if p := recover(); p != nil {
				w.abort(p)
				return
			}
			w.finish()
		}()
		a.h.ServeHTTP(w, req)
	}()

	r := <-w.out
	if r.panicked != nil {
		panic(r.panicked)
	}
	return r.res, nil
}

// pipeBody is the read side handed to the host; closing it tells the handler
// nobody is listening anymore.
type pipeBody struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (b *pipeBody) Close() error {
	b.cancel()
	return b.PipeReader.Close()
}

// streamWriter is the http.ResponseWriter given to the handler. It is only
// used from the handler goroutine.
type streamWriter struct {
	req         *http.Request
	header      http.Header
	pw          *io.PipeWriter
	body        *pipeBody
	cancel      context.CancelFunc
	out         chan handlerResult
	wroteHeader bool
	status      int
	piped       bool
}

func (w *streamWriter) Header() http.Header {
	return w.header
}

func (w *streamWriter) WriteHeader(code int) {
	if w.wroteHeader {
		logger.Warn("bridge_superfluous_write_header", "code", code, "status", w.status)
		return
	}
	if code < 100 || code > 999 {
		panic(fmt.Sprintf("invalid WriteHeader code %v", code))
	}
	// informational responses are not forwarded
	if code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols {
		return
	}
	if !bodyAllowedForStatus(code) || w.req.Method == http.MethodHead {
		w.commit(code, http.NoBody)
		return
	}
	w.piped = true
	w.commit(code, w.body)
}

func (w *streamWriter) commit(code int, body io.ReadCloser) {
	w.wroteHeader = true
	w.status = code
	h := w.header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	w.out <- handlerResult{res: &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          body,
		ContentLength: declaredLength(h),
		Request:       w.req,
	}}
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		if _, has := w.header["Content-Type"]; !has && len(p) > 0 {
			w.header.Set("Content-Type", http.DetectContentType(p))
		}
		w.WriteHeader(http.StatusOK)
	}
	if !w.piped {
		if w.req.Method == http.MethodHead {
			return len(p), nil
		}
		return 0, http.ErrBodyNotAllowed
	}
	if len(p) == 0 {
		return 0, nil
	}
	return w.pw.Write(p)
}

// Flush commits the headers. The pipe has no buffer of its own, so written
// bytes are already on their way to the host.
func (w *streamWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

func (w *streamWriter) finish() {
	if !w.wroteHeader {
		w.commit(http.StatusOK, http.NoBody)
	}
	_ = w.pw.Close()
	if !w.piped {
		w.cancel()
	}
}

func (w *streamWriter) abort(p any) {
	if !w.wroteHeader {
		w.wroteHeader = true
		_ = w.pw.Close()
		w.cancel()
		w.out <- handlerResult{panicked: p}
		return
	}
	err, ok := p.(error)
	if !ok || !errors.Is(err, http.ErrAbortHandler) {
		logger.Error("bridge_handler_panic", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
		err = fmt.Errorf("bridge: handler panic: %v", p)
	}
	_ = w.pw.CloseWithError(err)
	if !w.piped {
		w.cancel()
	}
}

func declaredLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

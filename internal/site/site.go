// Package site is the built-in downstream app: a small net/http application
// with a few diagnostic endpoints and a static file server for the build
// directory.
package site

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"kitbridge/pkg/bridge"
	"kitbridge/pkg/headers"
	"kitbridge/pkg/logger"
)

const (
	maxEchoBody  = 1 << 20
	maxCookies   = 50
	maxChunks    = 1000
	maxChunkWait = 5 * time.Second
)

// Platform is the per-request value the host attaches for this app.
type Platform struct {
	ConnID     uint64    `json:"conn_id"`
	ConnReqNum uint64    `json:"conn_request_num"`
	ReceivedAt time.Time `json:"received_at"`
	TLS        bool      `json:"tls"`
}

// New returns the app. buildDir may be empty, in which case unknown paths
// answer 404.
func New(buildDir string) http.Handler {
	r := mux.NewRouter()
	// keep //a//b as sent
	r.SkipClean(true)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", health).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/echo", echo)
	api.PathPrefix("/echo/").HandlerFunc(echo)
	api.HandleFunc("/cookies", cookies).Methods(http.MethodGet)
	api.HandleFunc("/stream", stream).Methods(http.MethodGet)
	api.HandleFunc("/platform", platform).Methods(http.MethodGet)
	api.HandleFunc("/status/{code:[0-9]{3}}", status)

	if buildDir != "" {
		r.NotFoundHandler = static(buildDir)
	} else {
		r.NotFoundHandler = http.HandlerFunc(notFound)
	}
	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type echoResponse struct {
	Method     string              `json:"method"`
	URL        string              `json:"url"`
	RequestURI string              `json:"request_uri"`
	Host       string              `json:"host"`
	Headers    map[string][]string `json:"headers"`
	Cookies    []string            `json:"cookies,omitempty"`
	Body       string              `json:"body"`
	BodyBytes  int                 `json:"body_bytes"`
}

// echo reflects the request as the app received it.
func echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEchoBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	out := echoResponse{
		Method:     r.Method,
		URL:        r.URL.String(),
		RequestURI: r.URL.RequestURI(),
		Host:       r.Host,
		Headers:    r.Header,
		Body:       string(body),
		BodyBytes:  len(body),
	}
	for _, c := range r.Cookies() {
		out.Cookies = append(out.Cookies, c.Name)
	}
	writeJSON(w, http.StatusOK, out)
}

// cookies sets n cookies, each with an Expires date so every value carries
// a comma.
func cookies(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", 2, maxCookies)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	expires := time.Date(2030, time.October, 21, 7, 28, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		http.SetCookie(w, &http.Cookie{
			Name:     fmt.Sprintf("c%d", i),
			Value:    strconv.Itoa(i),
			Path:     "/",
			Expires:  expires,
			HttpOnly: true,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]string{"set_cookie": headers.SetCookies(w.Header())})
}

// stream writes chunks lines, flushing after each one.
func stream(w http.ResponseWriter, r *http.Request) {
	chunks, err := intParam(r, "chunks", 5, maxChunks)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var wait time.Duration
	if v := r.URL.Query().Get("delay"); v != "" {
		wait, err = time.ParseDuration(v)
		if err != nil || wait < 0 || wait > maxChunkWait {
			http.Error(w, "invalid delay", http.StatusBadRequest)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	for i := 0; i < chunks; i++ {
		if i > 0 && wait > 0 {
			select {
			case <-r.Context().Done():
				logger.Debug("site_stream_cancelled", "sent", i)
				return
			case <-time.After(wait):
			}
		}
		if _, err := fmt.Fprintf(w, "chunk %d\n", i); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func platform(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"platform": bridge.Platform(r.Context())}
	if addr, err := bridge.ClientAddress(r.Context()); err != nil {
		out["client_address_error"] = err.Error()
	} else {
		out["client_address"] = addr
	}
	writeJSON(w, http.StatusOK, out)
}

// status answers with the given code and, where allowed, a short body.
func status(w http.ResponseWriter, r *http.Request) {
	code, _ := strconv.Atoi(mux.Vars(r)["code"])
	if code < 200 || code > 599 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status out of range"})
		return
	}
	w.WriteHeader(code)
	switch code {
	case http.StatusNoContent, http.StatusNotModified:
		return
	}
	_, _ = io.WriteString(w, http.StatusText(code))
}

// static serves files from dir, falling back to index.html for paths that
// do not name a file so client-side routes resolve.
func static(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			notFound(w, r)
			return
		}
		name := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if _, err := os.Stat(name); err != nil {
			if _, ierr := os.Stat(index); ierr == nil {
				http.ServeFile(w, r, index)
				return
			}
			notFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.EscapedPath()})
}

func intParam(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > max {
		return 0, fmt.Errorf("%s must be an integer in [0, %d]", name, max)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

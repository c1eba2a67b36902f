package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// precompressedTypes are content types gzip would only make bigger.
var precompressedTypes = []string{
	"image/png", "image/jpeg", "image/gif", "image/webp",
	"font/woff", "application/gzip", "application/zip",
	"audio/", "video/",
}

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		return gzip.NewWriter(io.Discard)
	},
}

// gzipResponseWriter decides at WriteHeader whether the response is compressed,
// once the handler has set the status and content type.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer // nil while the response passes through
	wroteHeader bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	w.wroteHeader = true

	if compressible(status, w.Header()) {
		// The length set by ServeContent is the uncompressed size
		w.Header().Del("Content-Length")
		w.Header().Set("Content-Encoding", "gzip")
		w.gz = gzipWriterPool.Get().(*gzip.Writer)
		w.gz.Reset(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		// Sniff from the plain bytes; net/http would otherwise see gzip data
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(b))
		}
		w.WriteHeader(http.StatusOK)
	}
	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// finish flushes the gzip stream and returns the writer to the pool.
func (w *gzipResponseWriter) finish() {
	if w.gz == nil {
		return
	}
	w.gz.Close()
	w.gz.Reset(io.Discard)
	gzipWriterPool.Put(w.gz)
	w.gz = nil
}

// compressible reports whether a response with this status and these headers
// should be gzipped. Partial and bodiless responses never are: Content-Range
// counts uncompressed bytes.
func compressible(status int, h http.Header) bool {
	switch {
	case status < http.StatusOK,
		status == http.StatusNoContent,
		status == http.StatusPartialContent,
		status == http.StatusNotModified:
		return false
	case h.Get("Content-Encoding") != "", h.Get("Content-Range") != "":
		return false
	}

	ct := h.Get("Content-Type")
	for _, prefix := range precompressedTypes {
		if strings.HasPrefix(ct, prefix) {
			return false
		}
	}
	return true
}

// acceptsGzip reports whether an Accept-Encoding value allows gzip.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(part, ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}

		q := 1.0
		if name, val, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(name) == "q" {
			if v, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				q = v
			}
		}
		if q > 0 {
			return true
		}
	}
	return false
}

// WithCompression gzips responses for clients that accept it. Websocket upgrades,
// HEAD and Range requests pass through untouched.
func WithCompression(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsGzip(r.Header.Get("Accept-Encoding")) {
			h.ServeHTTP(w, r)
			return
		}
		w.Header().Add("Vary", "Accept-Encoding")

		if r.Method == http.MethodHead ||
			r.Header.Get("Range") != "" ||
			strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			h.ServeHTTP(w, r)
			return
		}

		gzw := &gzipResponseWriter{ResponseWriter: w}
		defer gzw.finish()
		h.ServeHTTP(gzw, r)
	})
}

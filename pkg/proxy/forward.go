package proxy

import (
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tunegate/tunegate/pkg/stats"
)

// Upstream responses larger than this are rejected rather than buffered
// without bound.
const maxUpstreamResponse = 16 << 20

// Hop-by-hop headers are meaningful per connection and must not be relayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handleAPIProxy forwards GET /api/* to the upstream metadata API verbatim
// (path and query preserved) and records the call on upstream success.
// Statistics failures never affect the proxied response.
func (s *Server) handleAPIProxy(w http.ResponseWriter, r *http.Request) {
	u := *s.upstream
	u.Path = joinUpstreamPath(u.Path, r.URL.Path)
	u.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "build upstream request: "+err.Error())
		return
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn("upstream request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer resp.Body.Close()

	// Read one byte past the cap so an oversized response is detected rather
	// than silently truncated against the upstream Content-Length.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponse+1))
	if err != nil {
		log.Warn("upstream body read failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "upstream read error")
		return
	}
	if len(body) > maxUpstreamResponse {
		log.Warn("upstream response exceeds size cap", "path", r.URL.Path, "cap", maxUpstreamResponse)
		writeError(w, http.StatusBadGateway, "upstream response too large")
		return
	}
	latency := time.Since(start)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.engine.RecordCall()
		s.engine.LogEvent(r.Context(), stats.CallEvent{
			RequestID:  uuid.NewString(),
			Endpoint:   r.URL.Path,
			Method:     r.Method,
			StatusCode: resp.StatusCode,
			LatencyMS:  latency.Milliseconds(),
			ClientIP:   r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			Timestamp:  time.Now().UTC(),
		})
	}
}

func joinUpstreamPath(base, reqPath string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(reqPath, "/") {
		reqPath = "/" + reqPath
	}
	return base + reqPath
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

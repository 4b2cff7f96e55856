package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/overhuman/kvstore/internal/kverr"
)

const maxHeaderBytes = 64 * 1024

type request struct {
	method string
	path   string
	body   []byte
}

type response struct {
	status      int
	contentType string
	body        []byte
}

const (
	contentText = "text/plain; charset=utf-8"
	contentJSON = "application/json; charset=utf-8"
	contentHTML = "text/html; charset=utf-8"
)

func textResponse(status int, msg string) response {
	return response{status: status, contentType: contentText, body: []byte(msg + "\n")}
}

func errorResponse(err error) response {
	return textResponse(statusFor(err), err.Error())
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch kverr.KindOf(err) {
	case kverr.KindNotFound:
		return http.StatusNotFound
	case kverr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case kverr.KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	start := s.now()
	id := uuid.NewString()

	if s.cfg.IOTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
	}

	reader := bufio.NewReader(conn)
	req, err := readRequest(reader, s.cfg.MaxBodyBytes)
	if err != nil {
		// Framing failed; answer when the error is ours to report and close.
		if kverr.KindOf(err) == kverr.KindInternal {
			s.log.Warn("failed to read request", "request_id", id, "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
		resp := errorResponse(err)
		s.finish(conn, id, "", "", resp, start)
		return
	}
	if req == nil {
		return
	}

	resp := s.dispatch(ctx, req)
	s.finish(conn, id, req.method, req.path, resp, start)
}

func (s *Server) finish(conn net.Conn, id, method, path string, resp response, start time.Time) {
	if err := writeResponse(conn, resp); err != nil {
		s.log.Warn("failed to write response", "request_id", id, "error", err)
	}
	elapsed := s.now().Sub(start)
	label := s.routeLabel(method, path)
	s.metrics.ObserveRequest(label, resp.status, elapsed)
	s.log.Request(id, method, path, resp.status, elapsed)
}

// readRequest frames one request. It returns nil, nil when the client
// closed the connection without sending anything.
func readRequest(r *bufio.Reader, maxBody int64) (*request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("read request line: %w", err)
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, kverr.InvalidInput("malformed request line")
	}
	req := &request{method: fields[0], path: fields[1]}
	if i := strings.IndexByte(req.path, '?'); i >= 0 {
		req.path = req.path[:i]
	}
	if req.path == "" {
		req.path = "/"
	}

	var contentLength int64
	headerBytes := 0
	for {
		h, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read headers: %w", err)
		}
		headerBytes += len(h)
		if headerBytes > maxHeaderBytes {
			return nil, kverr.InvalidInput("request headers too large")
		}
		h = strings.TrimRight(h, "\r\n")
		if h == "" {
			break
		}

		name, value, ok := strings.Cut(h, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			return nil, kverr.InvalidInput("invalid content-length header")
		}
		contentLength = n
	}

	if contentLength > maxBody {
		return nil, kverr.PayloadTooLarge(int(contentLength))
	}
	if contentLength > 0 {
		req.body = make([]byte, contentLength)
		if _, err := io.ReadFull(r, req.body); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	return req, nil
}

func writeResponse(w io.Writer, resp response) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", resp.status, http.StatusText(resp.status))
	fmt.Fprintf(bw, "Content-Type: %s\r\n", resp.contentType)
	fmt.Fprintf(bw, "Content-Length: %d\r\n", len(resp.body))
	bw.WriteString("Cache-Control: no-store\r\n")
	bw.WriteString("Connection: close\r\n\r\n")
	bw.Write(resp.body)
	return bw.Flush()
}

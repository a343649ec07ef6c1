package pipeline

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultContentType is used when a response sets none.
const DefaultContentType = "application/json"

// ErrUnsupportedPayload is returned by [Encode] for a non-byte payload with a
// binary content type.
var ErrUnsupportedPayload = errors.New("only byte payloads can be sent with this content type")

// Encode serializes payload for contentType.
//
// JSON types (*/json, */*+json) go through the JSON encoder, with errors
// rendered by [ErrorBody]. text/* types use the payload's string form. Any
// other type accepts only []byte.
func Encode(contentType string, payload any, production bool) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.HasSuffix(mediaType, "/json") || strings.HasSuffix(mediaType, "+json"):
		if e, ok := payload.(error); ok {
			payload = ErrorBody(e, production)
		}

		return json.Marshal(payload)
	case strings.HasPrefix(mediaType, "text/"):
		return []byte(textOf(payload)), nil
	default:
		b, ok := payload.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %s (%T)", ErrUnsupportedPayload, mediaType, payload)
		}

		return b, nil
	}
}

// ErrorBody renders err as a JSON object: its message, the details of an
// [*Error] and, outside production, a stack.
func ErrorBody(err error, production bool) map[string]any {
	body := map[string]any{"message": err.Error()}

	var clientErr *Error
	if errors.As(err, &clientErr) && len(clientErr.Details) > 0 {
		body["details"] = clientErr.Details
	}

	if !production {
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			body["stack"] = panicErr.Stack()
		} else {
			body["stack"] = fmt.Sprintf("%+v", err)
		}
	}

	return body
}

func textOf(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// write serializes resp onto w. A payload that fails to serialize turns into
// a JSON 500.
func (p *Pipeline) write(w http.ResponseWriter, req *Request, resp Response) {
	header := http.Header{"Content-Type": {DefaultContentType}}
	for k, v := range resp.Header {
		header[http.CanonicalHeaderKey(k)] = v
	}

	if r, ok := resp.Payload.(io.Reader); ok {
		p.stream(w, req, header, resp.Status, r)

		return
	}

	body, err := Encode(header.Get("Content-Type"), resp.Payload, p.production)
	if err != nil {
		failed := p.failure(req, fmt.Errorf("serialize response: %w", err))
		header = http.Header{"Content-Type": {DefaultContentType}}
		resp = failed

		body, err = Encode(DefaultContentType, failed.Payload, p.production)
		if err != nil {
			body = []byte(`{"message":"` + internalErrorMessage + `"}`)
		}
	}

	copyHeader(w.Header(), header)
	w.WriteHeader(resp.Status)

	if !bodyAllowed(resp.Status) {
		return
	}

	_, err = w.Write(body)
	if err != nil {
		p.log.Debug("write response", zap.String("path", req.Path), zap.Error(err))
	}
}

func (p *Pipeline) stream(w http.ResponseWriter, req *Request, header http.Header, status int, r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	copyHeader(w.Header(), header)
	w.WriteHeader(status)

	if !bodyAllowed(status) {
		return
	}

	_, err := io.Copy(w, r)
	if err != nil {
		p.log.Debug("stream response", zap.String("path", req.Path), zap.Error(err))
	}
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = v
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	default:
		return true
	}
}

package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const maxMultipartMemory = 32 << 20

// RequestInfo is what was actually sent
type RequestInfo struct {
	Method  string
	URL     string
	Payload any
}

// Response of a successful (2xx) call.
// The same Response may be shared by several de-duplicated callers: treat it as read only
type Response struct {
	Status     int
	StatusText string
	Header     http.Header

	// Raw body
	Body []byte

	// Body parsed by content type:
	//   JSON -> any (map[string]any, []any, ...)
	//   text/* -> string
	//   application/x-www-form-urlencoded -> url.Values
	//   multipart/form-data -> *multipart.Form
	//   otherwise -> []byte
	Data any

	Request RequestInfo
}

// Decode unmarshals JSON body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func mediaType(header http.Header) (string, map[string]string) {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return "", nil
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Be lenient with broken headers: keep the bare type
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])), nil
	}
	return mt, params
}

func isJSON(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func parseBody(header http.Header, body []byte) (any, error) {
	mt, params := mediaType(header)

	switch {
	case isJSON(mt):
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, nil
		}
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("parse json body: %w", err)
		}
		return data, nil
	case strings.HasPrefix(mt, "text/"):
		return string(body), nil
	case mt == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse form body: %w", err)
		}
		return values, nil
	case mt == "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("parse multipart body: missing boundary")
		}
		form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(maxMultipartMemory)
		if err != nil {
			return nil, fmt.Errorf("parse multipart body: %w", err)
		}
		return form, nil
	default:
		return body, nil
	}
}

// newHTTPError builds error from non-2xx response.
// Message preference: JSON "message" field, text body, generic status line
func newHTTPError(resp *http.Response, body []byte) (*HTTPError, error) {
	httpErr := &HTTPError{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       body,
	}
	httpErr.Message = fmt.Sprintf("HTTP error: %d %s", httpErr.Status, httpErr.StatusText)

	mt, _ := mediaType(resp.Header)
	if isJSON(mt) {
		if len(bytes.TrimSpace(body)) == 0 {
			return httpErr, nil
		}
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return httpErr, fmt.Errorf("parse json error body: %w", err)
		}
		httpErr.Data = data
		if obj, ok := data.(map[string]any); ok {
			if msg, ok := obj["message"].(string); ok && msg != "" {
				httpErr.Message = msg
			}
		}
		return httpErr, nil
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		httpErr.Message = text
	}
	return httpErr, nil
}

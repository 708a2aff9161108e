package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Request describes a call to the API.
// Payload is encoded depending on method and type:
//   - GET: query parameters (slices as "key[]", nil values skipped)
//   - url.Values: urlencoded form body
//   - *MultipartPayload: multipart body, content type comes from the writer
//   - []byte or io.Reader: raw body
//   - anything else: JSON body
type Request struct {
	Method   string
	Endpoint string
	Payload  any
	Options  Options
}

type Options struct {
	// Headers override client default headers for this request only
	Headers map[string]string

	// Extra query parameters for any method
	Query url.Values
}

type MultipartFile struct {
	Field    string
	Filename string
	Content  io.Reader
}

type MultipartPayload struct {
	Fields map[string]string
	Files  []MultipartFile
}

// Fingerprint is the de-duplication key: method, endpoint and serialized payload.
// Payloads that are streams can't be compared, so their identity is used instead
func Fingerprint(method string, endpoint string, payload any) string {
	method = normalizeMethod(method)

	var data string
	switch p := payload.(type) {
	case io.Reader, *MultipartPayload:
		data = fmt.Sprintf("%T@%p", p, p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			data = fmt.Sprintf("%T@%v", p, p)
		} else {
			data = string(b)
		}
	}

	return method + ":" + endpoint + ":" + data
}

// requestKey is the registry key of req: its fingerprint plus extra query options,
// since those end up in the URL too
func requestKey(req Request) string {
	key := Fingerprint(req.Method, req.Endpoint, req.Payload)
	if len(req.Options.Query) > 0 {
		key += "?" + req.Options.Query.Encode()
	}
	return key
}

func normalizeMethod(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(method)
}

// encodedBody is request body ready to send along with its content type.
// Empty contentType means keep the default one
type encodedBody struct {
	reader      io.Reader
	contentType string
	dropDefault bool
}

func encodeBody(payload any) (encodedBody, error) {
	switch p := payload.(type) {
	case nil:
		return encodedBody{}, nil
	case url.Values:
		return encodedBody{
			reader:      strings.NewReader(p.Encode()),
			contentType: "application/x-www-form-urlencoded",
		}, nil
	case *MultipartPayload:
		return encodeMultipart(p)
	case []byte:
		return encodedBody{reader: bytes.NewReader(p)}, nil
	case io.Reader:
		return encodedBody{reader: p}, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return encodedBody{}, fmt.Errorf("encode json payload: %w", err)
		}
		return encodedBody{reader: bytes.NewReader(b)}, nil
	}
}

func encodeMultipart(p *MultipartPayload) (encodedBody, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	// Stable field order keeps bodies reproducible
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteField(k, p.Fields[k]); err != nil {
			return encodedBody{}, fmt.Errorf("write multipart field %q: %w", k, err)
		}
	}

	for _, f := range p.Files {
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return encodedBody{}, fmt.Errorf("create multipart file %q: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return encodedBody{}, fmt.Errorf("copy multipart file %q: %w", f.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return encodedBody{}, fmt.Errorf("close multipart writer: %w", err)
	}

	return encodedBody{reader: buf, contentType: w.FormDataContentType(), dropDefault: true}, nil
}

// encodeQuery flattens GET payload into query values
func encodeQuery(payload any) (url.Values, error) {
	switch p := payload.(type) {
	case nil:
		return url.Values{}, nil
	case url.Values:
		return p, nil
	case map[string]string:
		q := url.Values{}
		for k, v := range p {
			q.Set(k, v)
		}
		return q, nil
	}

	// Structs and generic maps go through JSON, so json tags decide parameter names
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode query payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("query payload must be an object: %w", err)
	}

	q := url.Values{}
	for key, value := range fields {
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			for _, item := range v {
				if item == nil {
					continue
				}
				q.Add(key+"[]", formatQueryValue(item))
			}
		default:
			q.Add(key, formatQueryValue(v))
		}
	}

	return q, nil
}

func formatQueryValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		b, _ := json.Marshal(value)
		return string(b)
	}
}

// appendQuery appends values to rawURL keeping existing query string
func appendQuery(rawURL string, q url.Values) string {
	if len(q) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + q.Encode()
}

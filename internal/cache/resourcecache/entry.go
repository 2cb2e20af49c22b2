package resourcecache

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Headers set on responses leaving the cache.
const (
	HeaderCacheStatus   = "Cache-Status"
	HeaderServedOffline = "X-Served-Offline"
)

// OfflineMessage is the error text of the synthesized unavailable response.
const OfflineMessage = "You are offline and this data is not in your cache."

// UnavailableBody is the JSON shape of the synthesized 503 response.
type UnavailableBody struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
}

// encode serializes res in HTTP/1.1 wire form. The body is buffered and
// res.Body is replaced so the caller can still read it.
func encode(res *http.Response) ([]byte, error) {
	body, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if res.ProtoMajor == 0 {
		res.Proto, res.ProtoMajor, res.ProtoMinor = "HTTP/1.1", 1, 1
	}
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil
	res.Body = io.NopCloser(bytes.NewReader(body))

	var buf bytes.Buffer
	werr := res.Write(&buf)
	res.Body = io.NopCloser(bytes.NewReader(body))
	if werr != nil {
		return nil, fmt.Errorf("serialize response: %w", werr)
	}
	return buf.Bytes(), nil
}

func decode(raw []byte, req *http.Request) (*http.Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return res, nil
}

func unavailable(req *http.Request) *http.Response {
	body, _ := json.Marshal(UnavailableBody{Error: OfflineMessage, Offline: true})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set(HeaderServedOffline, "true")
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// readBody buffers the request body so it can be hashed and replayed.
// It returns a clone of req carrying the buffered body.
func readBody(req *http.Request) (*http.Request, []byte, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil, nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("read request body: %w", err)
	}
	setBody(out, b)
	return out, b, nil
}

func setBody(r *http.Request, b []byte) {
	r.ContentLength = int64(len(b))
	if len(b) == 0 {
		r.Body = http.NoBody
		r.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(b))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

package arkivum

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed fileinfo.schema.json
var fileInfoSchema []byte

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("fileinfo.schema.json", bytes.NewReader(fileInfoSchema)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("fileinfo.schema.json")
	})
	return compiledSchema, compileErr
}

// ErrNoInfo is returned when the appliance has no record of a file yet.
var ErrNoInfo = errors.New("no file information available")

// IngestFinal is the ingestState reported once the appliance owns a file.
const IngestFinal = "FINAL"

// FileInfo is the subset of the fileInfo response the sink relies on.
type FileInfo struct {
	IngestState      string `json:"ingestState"`
	ReplicationState string `json:"replicationState"`
	Size             int64  `json:"size"`
	MD5              string `json:"md5"`
}

// Client queries the appliance REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for baseURL.
func NewClient(baseURL string, timeout time.Duration, insecure bool) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		// The appliance ships with a self-signed certificate.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// FileInfo fetches the ingest details of relPath. Any response other than a
// valid 200 body is ErrNoInfo wrapped with the cause.
func (c *Client) FileInfo(ctx context.Context, relPath string) (FileInfo, error) {
	endpoint := c.baseURL + "/api/2/files/fileInfo/" + escapePath(relPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %v", ErrNoInfo, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: read body: %v", ErrNoInfo, err)
	}
	if resp.StatusCode != http.StatusOK {
		return FileInfo{}, fmt.Errorf("%w: status %d", ErrNoInfo, resp.StatusCode)
	}
	return decodeFileInfo(body)
}

func decodeFileInfo(body []byte) (FileInfo, error) {
	compiled, err := schema()
	if err != nil {
		return FileInfo{}, err
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return FileInfo{}, fmt.Errorf("%w: decode body: %v", ErrNoInfo, err)
	}
	if err := compiled.Validate(raw); err != nil {
		return FileInfo{}, fmt.Errorf("%w: response does not match schema: %v", ErrNoInfo, err)
	}
	var info FileInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return FileInfo{}, fmt.Errorf("%w: decode body: %v", ErrNoInfo, err)
	}
	return info, nil
}

func escapePath(rel string) string {
	parts := strings.Split(strings.TrimLeft(rel, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

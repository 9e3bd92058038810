// Package backend is the HTTP client for the image, segmentation and
// annotation storage services.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"seg-annotator/internal/logging"
	"seg-annotator/internal/record"
)

var (
	// ErrMalformed is returned when a reply lacks the fields its endpoint
	// promises. No partial result is returned with it.
	ErrMalformed = errors.New("malformed server response")

	// ErrRemote is returned for a well-formed {"status":"error"} reply.
	ErrRemote = errors.New("server reported an error")
)

// StatusError is a non-2xx HTTP reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client talks to one backend base URL.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client. A zero timeout leaves requests bounded only by
// their context.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	return &Client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

// HTTPClient returns the underlying client, for image fetches against the
// same host.
func (c *Client) HTTPClient() *http.Client { return c.http }

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Resolve turns a server-relative file path into an absolute URL. Absolute
// URLs are returned unchanged.
func (c *Client) Resolve(path string) string {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// ImageInfo is the image record returned by FindImage.
type ImageInfo struct {
	ID       int64  `json:"id"`
	FilePath string `json:"file_path"`
	Edited   bool   `json:"edited"`
}

// FindImage returns the storage path of an image.
func (c *Client) FindImage(ctx context.Context, imageID int64) (*ImageInfo, error) {
	q := url.Values{"imageId": {strconv.FormatInt(imageID, 10)}}
	var info ImageInfo
	if err := c.getJSON(ctx, c.endpoint("/image/findImageById", q), &info); err != nil {
		return nil, err
	}
	if info.FilePath == "" {
		return nil, fmt.Errorf("%w: image %d has no file_path", ErrMalformed, imageID)
	}
	return &info, nil
}

// GetAnnotation fetches the stored annotation. A missing annotation comes
// back as an empty stroke list, not an error.
func (c *Client) GetAnnotation(ctx context.Context, imageID int64) (*record.Record, error) {
	body, err := c.get(ctx, c.endpoint("/annotation/"+strconv.FormatInt(imageID, 10), nil))
	if err != nil {
		return nil, err
	}
	rec, err := record.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return rec, nil
}

// SegmentedImage returns the URL of the last segmentation result, or "" if
// the image was never segmented.
func (c *Client) SegmentedImage(ctx context.Context, imageID int64) (string, error) {
	body, err := c.get(ctx, c.endpoint("/image/segmented/"+strconv.FormatInt(imageID, 10), nil))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	var reply struct {
		SegmentedImageURL string `json:"segmentedImageUrl"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return reply.SegmentedImageURL, nil
}

// SaveResult is the reply to AutoSave and Save.
type SaveResult struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	SavedAt      string `json:"savedAt"`
	AnnotationID int64  `json:"annotationId"`
}

// AutoSave merges data into the stored annotation.
func (c *Client) AutoSave(ctx context.Context, imageID int64, data record.Data) (*SaveResult, error) {
	return c.save(ctx, http.MethodPost, "/annotation/"+strconv.FormatInt(imageID, 10)+"/auto-save", data)
}

// Save replaces the stored annotation with data.
func (c *Client) Save(ctx context.Context, imageID int64, data record.Data) (*SaveResult, error) {
	return c.save(ctx, http.MethodPut, "/annotation/"+strconv.FormatInt(imageID, 10)+"/save", data)
}

func (c *Client) save(ctx context.Context, method, path string, data record.Data) (*SaveResult, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var res SaveResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if res.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, res.Message)
	}
	return &res, nil
}

// Upload is one file part of a multipart request.
type Upload struct {
	Name string
	Data []byte
}

// Progress reports bytes sent out of total.
type Progress func(sent, total int64)

// SegmentResult is a successful segmentation reply.
type SegmentResult struct {
	SegmentedImageURL string
}

// Segment sends the image and its marker mask for segmentation.
func (c *Client) Segment(ctx context.Context, imageID int64, img, markers Upload) (*SegmentResult, error) {
	body, err := c.postMultipart(ctx, "/image/segment", imageID, map[string]Upload{
		"image":   img,
		"markers": markers,
	}, nil)
	if err != nil {
		return nil, err
	}
	var reply struct {
		Status            string `json:"status"`
		SegmentedImageURL string `json:"segmentedImageUrl"`
		Message           string `json:"message"`
	}
	if err := decodeReply(body, &reply, &reply.Status, &reply.Message); err != nil {
		return nil, err
	}
	if reply.SegmentedImageURL == "" {
		return nil, fmt.Errorf("%w: missing segmentedImageUrl", ErrMalformed)
	}
	return &SegmentResult{SegmentedImageURL: reply.SegmentedImageURL}, nil
}

// MarkersResult is a successful marker generation reply.
type MarkersResult struct {
	MarkersURL string
	// Stats is the generator's free-form statistics document.
	Stats json.RawMessage
}

// GenerateMarkers asks the service to propose initial markers for an image.
// progress, if non-nil, observes the upload.
func (c *Client) GenerateMarkers(ctx context.Context, imageID int64, img Upload, progress Progress) (*MarkersResult, error) {
	body, err := c.postMultipart(ctx, "/image/generate-initial-markers", imageID, map[string]Upload{
		"image": img,
	}, progress)
	if err != nil {
		return nil, err
	}
	var reply struct {
		Status     string          `json:"status"`
		MarkersURL string          `json:"markersUrl"`
		Stats      json.RawMessage `json:"stats"`
		Message    string          `json:"message"`
	}
	if err := decodeReply(body, &reply, &reply.Status, &reply.Message); err != nil {
		return nil, err
	}
	if reply.MarkersURL == "" {
		return nil, fmt.Errorf("%w: missing markersUrl", ErrMalformed)
	}
	return &MarkersResult{MarkersURL: reply.MarkersURL, Stats: normalizeStats(reply.Stats)}, nil
}

// normalizeStats unwraps stats sent as a JSON-encoded string.
func normalizeStats(raw json.RawMessage) json.RawMessage {
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return raw
}

func decodeReply(body []byte, v any, status, message *string) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch *status {
	case "success":
		return nil
	case "error":
		return fmt.Errorf("%w: %s", ErrRemote, *message)
	default:
		return fmt.Errorf("%w: unexpected status %q", ErrMalformed, *status)
	}
}

func (c *Client) postMultipart(ctx context.Context, path string, imageID int64, files map[string]Upload, progress Progress) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, field := range []string{"image", "markers"} {
		f, ok := files[field]
		if !ok {
			continue
		}
		name := f.Name
		if name == "" {
			name = field + ".png"
		}
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.WriteField("imageId", strconv.FormatInt(imageID, 10)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	total := int64(buf.Len())
	var body io.Reader = &buf
	if progress != nil {
		body = &progressReader{r: &buf, total: total, fn: progress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", mw.FormDataContentType())

	logging.Logger.Debug("multipart upload",
		zap.String("path", path), zap.Int64("image_id", imageID), zap.Int64("bytes", total))
	return c.do(req)
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.Logger.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("cost", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var reply struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &reply) == nil {
			se.Message = reply.Message
		}
		return nil, se
	}
	return body, nil
}

// Package netx talks to presigned object-store URLs: part uploads and ranged
// chunk downloads, with bounded timeouts and capped retries.
package netx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrURLExpired is returned when the store rejects a presigned URL. Callers
// must request fresh URLs instead of retrying the same one.
var ErrURLExpired = errors.New("presigned url rejected or expired")

// ErrNoETag is returned when a part upload succeeds without an ETag header.
var ErrNoETag = errors.New("no etag in upload response")

// NewHTTPClient returns a client whose every request is bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Transfer performs presigned PUT/GET requests.
type Transfer struct {
	client *http.Client
	policy RetryPolicy
}

func NewTransfer(client *http.Client, policy RetryPolicy) *Transfer {
	return &Transfer{client: client, policy: policy}
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("%s failed: %s; body: %s", op, resp.Status, string(b))
	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrURLExpired, err)
	case RetryableStatus(resp.StatusCode):
		return Retryable(err)
	default:
		return err
	}
}

func (t *Transfer) wrapDo(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, err
		}
		return nil, Retryable(err)
	}
	return resp, nil
}

// UploadPart PUTs data to a presigned upload-part URL and returns the ETag
// exactly as the store reported it.
func (t *Transfer) UploadPart(ctx context.Context, url string, data []byte) (string, error) {
	var etag string
	err := t.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = int64(len(data))

		resp, err := t.wrapDo(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return statusError("upload", resp)
		}
		etag = resp.Header.Get("ETag")
		if etag == "" {
			return ErrNoETag
		}
		return nil
	})
	return etag, err
}

// Download GETs a presigned URL with an optional Range header. A short read
// on the final chunk is expected and not an error.
func (t *Transfer) Download(ctx context.Context, url, rangeHeader string) ([]byte, error) {
	var data []byte
	err := t.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		resp, err := t.wrapDo(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			return statusError("download", resp)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return Retryable(err)
		}
		data = b
		return nil
	})
	return data, err
}

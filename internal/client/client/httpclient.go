package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/netx"
)

// HTTPClient talks JSON to the metadata service. Transport failures and 5xx
// replies are retried under the policy; once retries run out they surface as
// ErrUnavailable.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	policy  netx.RetryPolicy
}

func NewHTTPClient(baseURL string, hc *http.Client, policy netx.RetryPolicy) *HTTPClient {
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc, policy: policy}
}

func replyError(path string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er api.ErrorResponse
	detail := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &er) == nil && er.Detail != "" {
		detail = er.Detail
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", ErrNotFound, path, detail)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s: %s", ErrRejected, path, detail)
	case netx.RetryableStatus(resp.StatusCode):
		return netx.Retryable(fmt.Errorf("%w: %s: %s %s", ErrUnavailable, path, resp.Status, detail))
	default:
		return fmt.Errorf("%s: unexpected status %s: %s", path, resp.Status, detail)
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = b
	}

	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return netx.Retryable(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return replyError(path, resp)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	})
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *HTTPClient) Health(ctx context.Context) error {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, api.PathHealth, nil, &out); err != nil {
		return err
	}
	if out.Status != "healthy" {
		return fmt.Errorf("%w: status %q", ErrUnavailable, out.Status)
	}
	return nil
}

func (c *HTTPClient) CreateFile(ctx context.Context, req *api.CreateFileRequest) (*api.CreateFileResponse, error) {
	var out api.CreateFileResponse
	if err := c.post(ctx, api.PathFiles, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ConfirmChunks(ctx context.Context, req *api.ConfirmRequest) (*api.ConfirmResponse, error) {
	var out api.ConfirmResponse
	if err := c.post(ctx, api.PathFilesConfirm, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Download(ctx context.Context, req *api.DownloadRequest) (*api.DownloadResponse, error) {
	var out api.DownloadResponse
	if err := c.post(ctx, api.PathFilesDownload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Sync(ctx context.Context, lastSyncTime string) (*api.SyncResponse, error) {
	var out api.SyncResponse
	if err := c.post(ctx, api.PathSync, &api.SyncRequest{LastSyncTime: lastSyncTime}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateFile(ctx context.Context, req *api.UpdateFileRequest) error {
	var out api.UpdateFileResponse
	if err := c.post(ctx, api.PathFilesUpdate, req, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("%w: update file %s", ErrRejected, req.FileID)
	}
	return nil
}

func (c *HTTPClient) DeleteFile(ctx context.Context, fileID string) error {
	return c.post(ctx, api.PathFilesDelete, &api.DeleteFileRequest{FileID: fileID}, nil)
}

func (c *HTTPClient) folder(ctx context.Context, path string, req *api.FolderRequest) error {
	var out api.FolderResponse
	if err := c.post(ctx, path, req, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("%w: folder %s", ErrRejected, req.FolderID)
	}
	return nil
}

func (c *HTTPClient) UpsertFolder(ctx context.Context, req *api.FolderRequest) error {
	return c.folder(ctx, api.PathFolders, req)
}

func (c *HTTPClient) UpdateFolder(ctx context.Context, req *api.FolderRequest) error {
	return c.folder(ctx, api.PathFoldersUpdate, req)
}

func (c *HTTPClient) DeleteFolder(ctx context.Context, folderID string) error {
	return c.post(ctx, api.PathFoldersDelete, &api.DeleteFolderRequest{FolderID: folderID}, nil)
}

// IsUnavailable reports whether err means the service could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

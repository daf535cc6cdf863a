package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNoConnectionURI is returned when project creation succeeds but the
// response carries no usable connection descriptor.
var ErrNoConnectionURI = errors.New("no connection URI on created project")

// Quota limits a provisioned project's resource usage.
type Quota struct {
	DataTransferBytes int64 `json:"data_transfer_bytes,omitempty"`
	LogicalSizeBytes  int64 `json:"logical_size_bytes,omitempty"`
}

// DefaultQuota is applied to ephemeral projects so an unclaimed database
// cannot run up cost before the sweeper reaps it.
var DefaultQuota = Quota{
	DataTransferBytes: 1000 * 1024 * 1024,
	LogicalSizeBytes:  100 * 1024 * 1024,
}

// CreateProjectParams describe the project to create.
type CreateProjectParams struct {
	Name      string
	RegionID  string
	PgVersion int
	Quota     *Quota
}

// Project is the subset of the provisioning API's project representation
// this service needs.
type Project struct {
	ID            string
	ConnectionURI string
}

// TransferRequest is a hosted ownership-transfer offer for a project.
type TransferRequest struct {
	ID string
}

// Client talks to the hosted database-provisioning API. It is a pure
// request/response client and holds no state beyond credentials.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient creates a provisioning client authenticated with the given
// bearer token (the platform API key in the usual case).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithToken returns a client identical to c but authenticated as the given
// bearer token. Used to create projects in a claimer's own account.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		baseURL: c.baseURL,
		token:   token,
		httpc:   c.httpc,
	}
}

type createProjectBody struct {
	Project struct {
		Name      string `json:"name"`
		RegionID  string `json:"region_id,omitempty"`
		PgVersion int    `json:"pg_version,omitempty"`
		Settings  *struct {
			Quota Quota `json:"quota"`
		} `json:"settings,omitempty"`
	} `json:"project"`
}

type createProjectResponse struct {
	Project struct {
		ID string `json:"id"`
	} `json:"project"`
	ConnectionURIs []struct {
		ConnectionURI string `json:"connection_uri"`
	} `json:"connection_uris"`
}

// CreateProject creates a new managed database project and returns its id
// and primary connection URI.
func (c *Client) CreateProject(ctx context.Context, params CreateProjectParams) (*Project, error) {
	var body createProjectBody
	body.Project.Name = params.Name
	body.Project.RegionID = params.RegionID
	body.Project.PgVersion = params.PgVersion
	if params.Quota != nil {
		body.Project.Settings = &struct {
			Quota Quota `json:"quota"`
		}{Quota: *params.Quota}
	}

	var resp createProjectResponse
	if err := c.do(ctx, http.MethodPost, "/projects", body, &resp); err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}

	if len(resp.ConnectionURIs) == 0 || resp.ConnectionURIs[0].ConnectionURI == "" {
		return nil, ErrNoConnectionURI
	}

	return &Project{
		ID:            resp.Project.ID,
		ConnectionURI: resp.ConnectionURIs[0].ConnectionURI,
	}, nil
}

// DeleteProject destroys a project and all its data.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	path := "/projects/" + url.PathEscape(projectID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting project %s: %w", projectID, err)
	}
	return nil
}

type transferRequestResponse struct {
	ID string `json:"id"`
}

// CreateTransferRequest mints a hosted ownership-transfer offer for the
// project, used to build a user-facing claim URL.
func (c *Client) CreateTransferRequest(ctx context.Context, projectID string) (*TransferRequest, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/transfer_requests"

	var resp transferRequestResponse
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("creating transfer request for %s: %w", projectID, err)
	}
	return &TransferRequest{ID: resp.ID}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

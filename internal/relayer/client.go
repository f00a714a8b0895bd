package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
	"AgentCommerce-Chain/internal/observability/metrics"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Transaction confirmation states reported by the trx-result endpoint.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusRetry   = "retry"
	StatusPending = "pending"
)

// Client wraps the HTTP interactions with the relayer REST API. The relayer
// accepts pre-signed payloads and submits them to the chain on the agent's
// behalf; reads are plain JSON endpoints keyed by the wallet-address header.
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	walletAddress string
}

// TrxData is the canonical call payload signed by the agent. Field order is
// part of the signed message and must not change.
type TrxData struct {
	Target string `json:"target"`
	Value  string `json:"value"`
	Data   string `json:"data"`
}

// Submission is the body of a write call.
type Submission struct {
	AgentWallet string  `json:"agentWallet"`
	TrxData     TrxData `json:"trxData"`
	Signature   string  `json:"signature"`
}

// SubmitResult carries the handles returned by a successful submission.
type SubmitResult struct {
	UserOpHash string
	TxHash     string
	MemoID     int64
}

// UnmarshalJSON tolerates the memo id arriving as either a number or a
// numeric string; both shapes exist in the wild.
func (r *SubmitResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserOpHash string      `json:"userOpHash"`
		TxHash     string      `json:"txHash"`
		MemoID     json.Number `json:"memoId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.UserOpHash = raw.UserOpHash
	r.TxHash = raw.TxHash
	if raw.MemoID != "" {
		id, err := raw.MemoID.Int64()
		if err != nil {
			return err
		}
		r.MemoID = id
	}
	return nil
}

// Ref returns the handle usable for confirmation polling.
func (r SubmitResult) Ref() string {
	if r.UserOpHash != "" {
		return r.UserOpHash
	}
	return r.TxHash
}

// TrxResult is the outcome reported by the transaction status endpoint.
type TrxResult struct {
	Status string
	JobID  int64
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != "" {
		return fmt.Sprintf("relayer api error (%d): %s - %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("relayer api error (%d): %s", e.StatusCode, e.Message)
}

// AgentRecord is a directory entry returned by the agents endpoint.
type AgentRecord struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	WalletAddress string          `json:"walletAddress"`
	TwitterHandle string          `json:"twitterHandle"`
	Offerings     []OfferingEntry `json:"offerings"`
}

// OfferingEntry is the raw offering payload attached to an agent record.
type OfferingEntry struct {
	Name              string          `json:"name"`
	Price             float64         `json:"price"`
	RequirementSchema json.RawMessage `json:"requirementSchema,omitempty"`
}

// NewClient instantiates a relayer client. When httpClient is nil, a default
// client with a sensible timeout is used.
func NewClient(rawURL, walletAddress string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid relayer base url")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, walletAddress: walletAddress}, nil
}

// SubmitTransaction posts a signed payload to the write endpoint. The relayer
// either returns a user operation hash to poll or an error envelope.
func (c *Client) SubmitTransaction(ctx context.Context, sub Submission) (SubmitResult, error) {
	var out struct {
		Data  SubmitResult `json:"data"`
		Error *APIError    `json:"error"`
	}
	if err := c.post(ctx, "/transactions", sub, &out); err != nil {
		return SubmitResult{}, err
	}
	if out.Error != nil {
		return SubmitResult{}, xerrors.Wrap(xerrors.CodeAPIError, out.Error, "transaction rejected by relayer")
	}
	if out.Data.Ref() == "" {
		return SubmitResult{}, xerrors.New(xerrors.CodeAPIError, "relayer returned no transaction handle")
	}
	return out.Data, nil
}

// TransactionResult looks up the confirmation status of a submitted payload.
func (c *Client) TransactionResult(ctx context.Context, userOpHash string) (TrxResult, error) {
	body := map[string]string{"userOpHash": userOpHash}
	var out struct {
		Data *struct {
			Status string `json:"status"`
			Result *struct {
				JobID json.Number `json:"jobId"`
			} `json:"result"`
		} `json:"data"`
		Error *APIError `json:"error"`
	}
	if err := c.post(ctx, "/trx-result", body, &out); err != nil {
		return TrxResult{}, err
	}
	if out.Error != nil {
		return TrxResult{}, xerrors.Wrap(xerrors.CodeAPIError, out.Error, "trx-result lookup failed")
	}
	if out.Data == nil {
		return TrxResult{}, xerrors.New(xerrors.CodeAPIError, "trx-result returned no data")
	}
	result := TrxResult{Status: out.Data.Status}
	if out.Data.Result != nil {
		id, err := out.Data.Result.JobID.Int64()
		if err != nil {
			return TrxResult{}, xerrors.Wrap(xerrors.CodeAPIError, err, "malformed job id in trx-result")
		}
		result.JobID = id
	}
	return result, nil
}

// ActiveJobs lists the caller's jobs still in a non-terminal phase.
func (c *Client) ActiveJobs(ctx context.Context, page, pageSize int) ([]*job.Job, error) {
	return c.listJobs(ctx, "/jobs/active", page, pageSize)
}

// CompletedJobs lists the caller's completed jobs.
func (c *Client) CompletedJobs(ctx context.Context, page, pageSize int) ([]*job.Job, error) {
	return c.listJobs(ctx, "/jobs/completed", page, pageSize)
}

// CancelledJobs lists the caller's rejected jobs.
func (c *Client) CancelledJobs(ctx context.Context, page, pageSize int) ([]*job.Job, error) {
	return c.listJobs(ctx, "/jobs/cancelled", page, pageSize)
}

func (c *Client) listJobs(ctx context.Context, endpoint string, page, pageSize int) ([]*job.Job, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	endpoint = fmt.Sprintf("%s?pagination[page]=%d&pagination[pageSize]=%d", endpoint, page, pageSize)
	var out struct {
		Data  []jobPayload `json:"data"`
		Error *APIError    `json:"error"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, xerrors.Wrap(xerrors.CodeAPIError, out.Error, "job listing failed")
	}
	jobs := make([]*job.Job, 0, len(out.Data))
	for _, payload := range out.Data {
		decoded, err := payload.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, decoded)
	}
	return jobs, nil
}

// JobByID fetches a single job, memos included.
func (c *Client) JobByID(ctx context.Context, onChainJobID int64) (*job.Job, error) {
	var out struct {
		Data  *jobPayload `json:"data"`
		Error *APIError   `json:"error"`
	}
	if err := c.get(ctx, fmt.Sprintf("/jobs/%d", onChainJobID), &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, xerrors.Wrap(xerrors.CodeAPIError, out.Error, "job lookup failed")
	}
	if out.Data == nil {
		return nil, xerrors.New(xerrors.CodeAPIError, "job lookup returned no data")
	}
	return out.Data.toJob()
}

// MemoByID fetches a single memo of a job.
func (c *Client) MemoByID(ctx context.Context, onChainJobID, memoID int64) (job.Memo, error) {
	var out struct {
		Data  *memoPayload `json:"data"`
		Error *APIError    `json:"error"`
	}
	if err := c.get(ctx, fmt.Sprintf("/jobs/%d/memos/%d", onChainJobID, memoID), &out); err != nil {
		return job.Memo{}, err
	}
	if out.Error != nil {
		return job.Memo{}, xerrors.Wrap(xerrors.CodeAPIError, out.Error, "memo lookup failed")
	}
	if out.Data == nil {
		return job.Memo{}, xerrors.New(xerrors.CodeAPIError, "memo lookup returned no data")
	}
	return out.Data.toMemo()
}

// BrowseAgents searches the agent directory, excluding the caller itself.
func (c *Client) BrowseAgents(ctx context.Context, keyword, cluster string) ([]AgentRecord, error) {
	endpoint := fmt.Sprintf("/agents?search=%s&filters[walletAddress][$notIn]=%s",
		url.QueryEscape(keyword), url.QueryEscape(c.walletAddress))
	if cluster != "" {
		endpoint += "&filters[cluster]=" + url.QueryEscape(cluster)
	}
	var out struct {
		Data  []AgentRecord `json:"data"`
		Error *APIError     `json:"error"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, xerrors.Wrap(xerrors.CodeAPIError, out.Error, "agent browse failed")
	}
	return out.Data, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request")
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid endpoint")
	}
	parsed.Path = path.Join(c.baseURL.Path, parsed.Path)
	u := c.baseURL.ResolveReference(parsed)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "create request")
	}
	req.Header.Set("wallet-address", c.walletAddress)
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRelayerRequest(req.URL.Path, req.Method, 0, time.Since(start))
		return xerrors.Wrap(xerrors.CodeConnectivity, err, "perform request")
	}
	defer resp.Body.Close()
	metrics.ObserveRelayerRequest(req.URL.Path, req.Method, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return xerrors.Wrap(xerrors.CodeAPIError, readErr, "read error response")
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr}); err != nil {
				// try direct decode if the server returned a flat payload
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return xerrors.Wrap(xerrors.CodeAPIError, apiErr, "")
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeAPIError, err, "decode response")
	}
	return nil
}

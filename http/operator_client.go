package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
)

// ============================================================================
// Operator Client
// ============================================================================

// OperatorClient talks to the inference operator that schedules jobs and
// prices them
type OperatorClient struct {
	url        string
	httpClient *http.Client
}

// OperatorConfig configures the operator client
type OperatorConfig struct {
	// URL is the base URL of the operator
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration
}

// Job is the operator's view of an inference job
type Job struct {
	JobID   string      `json:"job_id"`
	Status  string      `json:"status"`
	Model   string      `json:"model,omitempty"`
	Payment *JobPayment `json:"payment"`
}

// JobPayment is what a finished job costs and who gets paid.
// Jobs without a token count have no payment.
type JobPayment struct {
	AmountCCD        decimal.Decimal `json:"amount_ccd"`
	RecipientAddress string          `json:"recipient_address"`
	RecipientNode    string          `json:"recipient_node,omitempty"`
}

// PaymentConfirmation tells the operator a job was paid
type PaymentConfirmation struct {
	JobID           string          `json:"job_id"`
	TransactionHash string          `json:"transaction_hash"`
	Amount          decimal.Decimal `json:"amount"`
}

// MarshalJSON sends the amount as a JSON number
func (p PaymentConfirmation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		JobID           string      `json:"job_id"`
		TransactionHash string      `json:"transaction_hash"`
		Amount          json.Number `json:"amount"`
	}{
		JobID:           p.JobID,
		TransactionHash: p.TransactionHash,
		Amount:          json.Number(p.Amount.String()),
	})
}

// NewOperatorClient creates a new operator client
func NewOperatorClient(config *OperatorConfig) (*OperatorClient, error) {
	if config == nil || config.URL == "" {
		return nil, settlement.NewError(settlement.ErrCodeMissingField, "operator URL is required",
			map[string]interface{}{"field": "url"})
	}

	return &OperatorClient{
		url:        strings.TrimRight(config.URL, "/"),
		httpClient: httpClient(config.HTTPClient, config.Timeout),
	}, nil
}

// Job fetches a job. Unknown jobs fail with ErrNotFound.
func (c *OperatorClient) Job(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, settlement.NewError(settlement.ErrCodeMissingField, "job id is required",
			map[string]interface{}{"field": "job_id"})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create job request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, settlement.WrapError(settlement.ErrCodeNetworkUnavailable, err, "job request failed")
	}
	defer resp.Body.Close()

	var job Job
	if err := decodeResponse(resp, &job); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return &job, nil
}

// ConfirmPayment reports a settled payment for a job
func (c *OperatorClient) ConfirmPayment(ctx context.Context, confirmation PaymentConfirmation) error {
	body, err := json.Marshal(confirmation)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payment confirmation")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/payment-confirmed", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create confirmation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return settlement.WrapError(settlement.ErrCodeNetworkUnavailable, err, "confirmation request failed")
	}
	defer resp.Body.Close()

	return decodeResponse(resp, nil)
}

// NotifyHook returns an after-settle hook confirming memo-tagged payments to
// the operator. The memo is taken as the job id.
func (c *OperatorClient) NotifyHook(logger *zap.Logger) settlement.AfterSettleHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx settlement.SettleResultContext) error {
		record := ctx.Receipt.Record
		if record.Memo == "" {
			return nil
		}

		err := c.ConfirmPayment(ctx.Ctx, PaymentConfirmation{
			JobID:           record.Memo,
			TransactionHash: record.Hash,
			Amount:          ctx.Receipt.Amount,
		})
		if err != nil {
			return errors.Wrapf(err, "notifying operator of job %s", record.Memo)
		}
		logger.Info("operator notified of payment",
			zap.String("job", record.Memo),
			zap.String("hash", record.Hash))
		return nil
	}
}

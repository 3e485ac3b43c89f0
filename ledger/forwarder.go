package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository/models"
)

// ChainForwarder pushes transactions to the municipal and continental chain
// tiers. Every call is bounded by the client timeout; a downstream that does
// not answer in time fails with DOWNSTREAM_UNAVAILABLE rather than hanging.
type ChainForwarder struct {
	client *http.Client
	logger cmtlog.Logger
}

// NewChainForwarder builds a forwarder with a bounded HTTP client.
func NewChainForwarder(timeout time.Duration, logger cmtlog.Logger) *ChainForwarder {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	return &ChainForwarder{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// ForwardTransaction delivers a transaction to a municipal chain endpoint.
func (f *ChainForwarder) ForwardTransaction(ctx context.Context, endpoint string, tx *models.Transaction) *repository.Error {
	return f.post(ctx, endpoint+"/receive_transaction", tx)
}

// ForwardToContinental delivers a claimed transaction to the aggregation
// tier above the municipal chains.
func (f *ChainForwarder) ForwardToContinental(ctx context.Context, endpoint string, tx *models.Transaction) *repository.Error {
	return f.post(ctx, endpoint+"/pending_transaction", tx)
}

func (f *ChainForwarder) post(ctx context.Context, url string, tx *models.Transaction) *repository.Error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return repository.NewError(repository.CodeValidation, "failed to serialize transaction", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return repository.NewError(repository.CodeDownstreamUnavailable, "failed to build downstream request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("downstream forward failed", "url", url, "err", err)
		return repository.NewError(repository.CodeDownstreamUnavailable, "downstream chain unavailable", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		f.logger.Error("downstream rejected transaction", "url", url, "status", resp.StatusCode)
		return repository.NewError(repository.CodeDownstreamUnavailable,
			fmt.Sprintf("downstream chain returned %d", resp.StatusCode), string(body))
	}
	return nil
}

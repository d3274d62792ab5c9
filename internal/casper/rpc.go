package casper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/domain"
)

// RPCClient talks to a Casper node's JSON-RPC endpoint. Only the methods the
// listeners need are wrapped.
type RPCClient struct {
	url    string
	client adapter.HTTPClient
	seq    atomic.Int64
}

// NewRPCClient creates a client for the given JSON-RPC URL.
func NewRPCClient(url string, client adapter.HTTPClient) *RPCClient {
	return &RPCClient{url: url, client: client}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	respBody, err := c.client.Post(ctx, c.url, "application/json", body)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("rpc %s: decode response: %w", method, err)
	}
	if resp.Error != nil {
		// Code -32602 covers unknown deploys on current node versions
		if strings.Contains(strings.ToLower(resp.Error.Message), "deploy") &&
			strings.Contains(strings.ToLower(resp.Error.Message), "not") {
			return domain.ErrDeployNotFound
		}
		return fmt.Errorf("rpc %s: error %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

type deployResult struct {
	Deploy struct {
		Header struct {
			Account string `json:"account"`
		} `json:"header"`
	} `json:"deploy"`

	// Pre-Condor nodes report execution under execution_results
	ExecutionResults []struct {
		Result struct {
			Success *json.RawMessage `json:"Success"`
			Failure *struct {
				ErrorMessage string `json:"error_message"`
			} `json:"Failure"`
		} `json:"result"`
	} `json:"execution_results"`

	// Condor nodes report it under execution_info
	ExecutionInfo *struct {
		ExecutionResult struct {
			Version2 *struct {
				ErrorMessage *string `json:"error_message"`
			} `json:"Version2"`
		} `json:"execution_result"`
	} `json:"execution_info"`
}

// ResolveSender returns the public key that signed the deploy. The streaming
// API only carries account hashes, so linking a payment back to a wallet goes
// through the deploy header.
func (c *RPCClient) ResolveSender(ctx context.Context, deployHash string) (string, error) {
	var result deployResult
	err := c.call(ctx, "info_get_deploy", map[string]string{"deploy_hash": deployHash}, &result)
	if err != nil {
		return "", err
	}
	account := strings.TrimSpace(result.Deploy.Header.Account)
	if account == "" {
		return "", domain.ErrDeployNotFound
	}
	return strings.ToLower(account), nil
}

// DeployStatus is the observed execution state of a deploy.
type DeployStatus struct {
	// Executed is false while the deploy sits in the mempool
	Executed bool
	// Success is meaningful only when Executed is true
	Success bool
	// ErrorMessage carries the node's failure reason when Success is false
	ErrorMessage string
}

// GetDeployStatus returns whether a deploy executed and whether it succeeded.
// Handles both the legacy execution_results shape and the current
// execution_info shape.
func (c *RPCClient) GetDeployStatus(ctx context.Context, deployHash string) (*DeployStatus, error) {
	var result deployResult
	err := c.call(ctx, "info_get_deploy", map[string]string{"deploy_hash": deployHash}, &result)
	if err != nil {
		return nil, err
	}

	if result.ExecutionInfo != nil {
		v2 := result.ExecutionInfo.ExecutionResult.Version2
		if v2 == nil {
			return &DeployStatus{Executed: true, Success: true}, nil
		}
		if v2.ErrorMessage != nil && *v2.ErrorMessage != "" {
			return &DeployStatus{Executed: true, Success: false, ErrorMessage: *v2.ErrorMessage}, nil
		}
		return &DeployStatus{Executed: true, Success: true}, nil
	}

	if len(result.ExecutionResults) > 0 {
		r := result.ExecutionResults[0].Result
		if r.Failure != nil {
			return &DeployStatus{Executed: true, Success: false, ErrorMessage: r.Failure.ErrorMessage}, nil
		}
		if r.Success != nil {
			return &DeployStatus{Executed: true, Success: true}, nil
		}
	}

	return &DeployStatus{Executed: false}, nil
}

package casper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/domain"
)

// CloudClient talks to the CSPR.cloud REST API. Only the contract-package
// lookup is wrapped; the streaming side lives in StreamClient.
type CloudClient struct {
	apiURL    string
	accessKey string
	client    adapter.HTTPClient
}

// NewCloudClient creates a client for the given API base URL, e.g.
// https://api.cspr.cloud.
func NewCloudClient(apiURL, accessKey string, client adapter.HTTPClient) *CloudClient {
	return &CloudClient{
		apiURL:    strings.TrimRight(apiURL, "/"),
		accessKey: accessKey,
		client:    client,
	}
}

type contractPackageResponse struct {
	Data struct {
		OwnerPublicKey string `json:"owner_public_key"`
	} `json:"data"`
}

// GetContractPackageOwner returns the public key that owns a contract
// package. Tokens are addressed by their package hash, so this is the
// on-chain owner of a token. Returns domain.ErrOwnerNotFound when the
// package does not exist or carries no owner.
func (c *CloudClient) GetContractPackageOwner(ctx context.Context, packageHash string) (string, error) {
	url := c.apiURL + "/contract-packages/" + domain.NormalizeHash(packageHash)

	headers := map[string]string{"Accept": "application/json"}
	if c.accessKey != "" {
		headers["Authorization"] = c.accessKey
	}

	body, err := c.client.Get(ctx, url, headers)
	if err != nil {
		var status *adapter.StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return "", domain.ErrOwnerNotFound
		}
		return "", fmt.Errorf("contract package %s: %w", packageHash, err)
	}

	var resp contractPackageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("contract package %s: decode response: %w", packageHash, err)
	}
	owner := strings.TrimSpace(resp.Data.OwnerPublicKey)
	if owner == "" {
		return "", domain.ErrOwnerNotFound
	}
	return strings.ToLower(owner), nil
}

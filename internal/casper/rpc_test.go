package casper

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspy-social/caspy-backend/internal/domain"
)

type fakeHTTPClient struct {
	response []byte
	err      error

	lastURL     string
	lastBody    []byte
	lastHeaders map[string]string
}

func (f *fakeHTTPClient) Post(_ context.Context, url, _ string, body []byte) ([]byte, error) {
	f.lastURL = url
	f.lastBody = body
	return f.response, f.err
}

func (f *fakeHTTPClient) Get(_ context.Context, url string, headers map[string]string) ([]byte, error) {
	f.lastURL = url
	f.lastHeaders = headers
	return f.response, f.err
}

func TestResolveSender(t *testing.T) {
	fake := &fakeHTTPClient{
		response: []byte(`{
			"jsonrpc": "2.0",
			"id": 1,
			"result": {
				"deploy": {
					"header": {
						"account": "0202E5A88E2BAF0306484ECED583F8642902752668B4B91070DC2ABD01D6304D2CD8"
					}
				}
			}
		}`),
	}
	client := NewRPCClient("https://node.example/rpc", fake)

	sender, err := client.ResolveSender(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "0202e5a88e2baf0306484eced583f8642902752668b4b91070dc2abd01d6304d2cd8", sender)

	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.lastBody, &req))
	assert.Equal(t, "info_get_deploy", req["method"])
	assert.Equal(t, map[string]interface{}{"deploy_hash": "abc123"}, req["params"])
}

func TestResolveSenderDeployNotFound(t *testing.T) {
	fake := &fakeHTTPClient{
		response: []byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"deploy not known"}}`),
	}
	client := NewRPCClient("https://node.example/rpc", fake)

	_, err := client.ResolveSender(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDeployNotFound)
}

func TestResolveSenderMissingAccount(t *testing.T) {
	fake := &fakeHTTPClient{
		response: []byte(`{"jsonrpc":"2.0","id":1,"result":{"deploy":{"header":{}}}}`),
	}
	client := NewRPCClient("https://node.example/rpc", fake)

	_, err := client.ResolveSender(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrDeployNotFound)
}

func TestGetDeployStatus(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     DeployStatus
	}{
		{
			name: "legacy success",
			response: `{"jsonrpc":"2.0","id":1,"result":{
				"deploy":{"header":{"account":"01aa"}},
				"execution_results":[{"result":{"Success":{"cost":"100"}}}]
			}}`,
			want: DeployStatus{Executed: true, Success: true},
		},
		{
			name: "legacy failure",
			response: `{"jsonrpc":"2.0","id":1,"result":{
				"deploy":{"header":{"account":"01aa"}},
				"execution_results":[{"result":{"Failure":{"error_message":"User error: 65533"}}}]
			}}`,
			want: DeployStatus{Executed: true, Success: false, ErrorMessage: "User error: 65533"},
		},
		{
			name: "condor success",
			response: `{"jsonrpc":"2.0","id":1,"result":{
				"deploy":{"header":{"account":"01aa"}},
				"execution_info":{"execution_result":{"Version2":{"error_message":null}}}
			}}`,
			want: DeployStatus{Executed: true, Success: true},
		},
		{
			name: "condor failure",
			response: `{"jsonrpc":"2.0","id":1,"result":{
				"deploy":{"header":{"account":"01aa"}},
				"execution_info":{"execution_result":{"Version2":{"error_message":"out of gas"}}}
			}}`,
			want: DeployStatus{Executed: true, Success: false, ErrorMessage: "out of gas"},
		},
		{
			name: "not yet executed",
			response: `{"jsonrpc":"2.0","id":1,"result":{
				"deploy":{"header":{"account":"01aa"}}
			}}`,
			want: DeployStatus{Executed: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewRPCClient("https://node.example/rpc", &fakeHTTPClient{response: []byte(tt.response)})
			status, err := client.GetDeployStatus(context.Background(), "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, *status)
		})
	}
}

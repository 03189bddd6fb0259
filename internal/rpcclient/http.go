// Package rpcclient implements core.RPCClient as a plain JSON-over-HTTP
// client. RPC plumbing is explicitly outside this router's core budget
// (spec.md §1: "the remainder is adapters, CLI, RPC plumbing"), so this is
// deliberately the thinnest possible bulk-scan client, built on net/http the
// way the teacher reaches for net/http directly rather than a third-party
// HTTP client for outbound calls (core/gateway_node.go).
package rpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"swaprouter/core"
)

// Client is a minimal JSON-RPC client for the two bulk-scan calls every
// adapter's Initialize needs (spec.md §4.3).
type Client struct {
	url        string
	httpClient *http.Client
}

// New constructs a Client against the given JSON-RPC endpoint.
func New(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcAccountInfo struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Data  []string `json:"data"` // [base64, encoding]
		Owner string   `json:"owner"`
	} `json:"account"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("rpcclient: %s: %s", method, out.Error.Message)
	}
	return out.Result, nil
}

// GetProgramAccounts bulk-scans every account owned by program.
func (c *Client) GetProgramAccounts(ctx context.Context, program core.Address) ([]core.ScannedAccount, error) {
	raw, err := c.call(ctx, "getProgramAccounts", []any{program.String(), map[string]any{"encoding": "base64"}})
	if err != nil {
		return nil, err
	}
	var entries []rpcAccountInfo
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("rpcclient: decode getProgramAccounts: %w", err)
	}
	return decodeAccounts(entries)
}

// GetMultipleAccounts fetches a known set of addresses in one round trip.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []core.Address) ([]core.ScannedAccount, error) {
	keys := make([]string, len(addresses))
	for i, a := range addresses {
		keys[i] = a.String()
	}
	raw, err := c.call(ctx, "getMultipleAccounts", []any{keys, map[string]any{"encoding": "base64"}})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Value []*struct {
			Data  []string `json:"data"`
			Owner string   `json:"owner"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("rpcclient: decode getMultipleAccounts: %w", err)
	}
	out := make([]core.ScannedAccount, 0, len(wrapper.Value))
	for i, v := range wrapper.Value {
		if v == nil || len(v.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(v.Data[0])
		if err != nil {
			continue
		}
		owner, err := core.ParseMint(v.Owner)
		if err != nil {
			continue
		}
		out = append(out, core.ScannedAccount{
			Address: addresses[i],
			Entry:   core.AccountEntry{Bytes: data, Owner: core.Address(owner)},
		})
	}
	return out, nil
}

func decodeAccounts(entries []rpcAccountInfo) ([]core.ScannedAccount, error) {
	out := make([]core.ScannedAccount, 0, len(entries))
	for _, e := range entries {
		if len(e.Account.Data) == 0 {
			continue
		}
		addr, err := core.ParseMint(e.Pubkey)
		if err != nil {
			continue
		}
		owner, err := core.ParseMint(e.Account.Owner)
		if err != nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(e.Account.Data[0])
		if err != nil {
			continue
		}
		out = append(out, core.ScannedAccount{
			Address: core.Address(addr),
			Entry:   core.AccountEntry{Bytes: data, Owner: core.Address(owner)},
		})
	}
	return out, nil
}

// Command corenetcli is a thin JSON-RPC client for corenetd's CLI/admin
// channel: it POSTs a {method, params, id, version} body and prints the
// response's result.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type rpcRequest struct {
	Method  string   `json:"method"`
	Params  []string `json:"params"`
	ID      uint64   `json:"id"`
	Version uint8    `json:"version"`
}

type rpcResponse struct {
	Type    int    `json:"type"`
	Result  any    `json:"result"`
	ID      uint64 `json:"id"`
	Version uint8  `json:"version"`
}

func main() {
	var addr string
	var requestID uint64

	root := &cobra.Command{
		Use:   "corenetcli",
		Short: "JSON-RPC client for the corenet CLI/admin channel",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8079", "admin channel base URL")
	root.PersistentFlags().Uint64Var(&requestID, "id", 1, "JSON-RPC request id")

	call := &cobra.Command{
		Use:   "call <method> [params...]",
		Short: "invoke a registered command and print its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := invoke(addr, rpcRequest{
				Method:  args[0],
				Params:  args[1:],
				ID:      requestID,
				Version: 1,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), resp)
		},
	}
	root.AddCommand(call)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func invoke(addr string, req rpcRequest) (*rpcResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("corenetcli: encode request: %w", err)
	}
	httpClient := &http.Client{Timeout: 20 * time.Second}
	resp, err := httpClient.Post(addr, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("corenetcli: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("corenetcli: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("corenetcli: admin channel returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("corenetcli: decode response: %w", err)
	}
	return &out, nil
}

func printResult(w io.Writer, resp *rpcResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.Result)
}

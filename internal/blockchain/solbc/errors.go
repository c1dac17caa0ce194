// internal/blockchain/solbc/errors.go
package solbc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// AnchorError represents an error from Anchor framework
type AnchorError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// DescribeRPCError turns a send/simulate error into a one-line detail.
// Simulation failures carry program logs; an Anchor error among them is
// the most useful part for the user.
func DescribeRPCError(err error) string {
	if err == nil {
		return ""
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return err.Error()
	}

	detail := fmt.Sprintf("rpc error %d: %s", rpcErr.Code, rpcErr.Message)
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return detail
	}

	if logs, ok := data["logs"].([]interface{}); ok {
		for _, entry := range logs {
			line, ok := entry.(string)
			if !ok || !strings.Contains(line, "AnchorError occurred") {
				continue
			}
			ae := parseAnchorErrorLog(line)
			return fmt.Sprintf("%s (anchor %s #%d: %s)", detail, ae.Name, ae.Code, ae.Msg)
		}
	}
	if instrErr, ok := data["err"]; ok && instrErr != nil {
		return fmt.Sprintf("%s (%s)", detail, DescribeTransactionError(instrErr))
	}
	return detail
}

// DescribeTransactionError formats the err field of a signature status.
// Example input: {"InstructionError":[2,{"Custom":6001}]}
func DescribeTransactionError(txErr interface{}) string {
	if txErr == nil {
		return ""
	}
	if s, ok := txErr.(string); ok {
		return s
	}
	b, err := json.Marshal(txErr)
	if err != nil {
		return fmt.Sprintf("%v", txErr)
	}
	return string(b)
}

// parseAnchorErrorLog parses an Anchor error log string
// Example: "Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound. Error Number: 101. Error Message: Fallback functions are not supported."
func parseAnchorErrorLog(logStr string) AnchorError {
	result := AnchorError{}

	if parts := strings.Split(logStr, "Error Number:"); len(parts) > 1 {
		numParts := strings.Split(parts[1], ".")
		_, _ = fmt.Sscanf(strings.TrimSpace(numParts[0]), "%d", &result.Code)
	}

	if parts := strings.Split(logStr, "Error Code:"); len(parts) > 1 {
		result.Name = strings.TrimSpace(strings.Split(parts[1], ".")[0])
	}

	if parts := strings.Split(logStr, "Error Message:"); len(parts) > 1 {
		result.Msg = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), "."))
	}

	return result
}

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// RPCContract is the production Contract, talking to an Ethereum-style
// JSON-RPC endpoint. It encodes calls generically (contract ABI encoding
// is the rollup's responsibility per spec.md §6) and classifies RPC
// failures into the SubmitResult taxonomy internal/posting retries on.
type RPCContract struct {
	endpoint       string
	contractAddr   string
	builderAddress string
	ethAllowance   string
	httpClient     *http.Client
	log            logging.Logger
}

func NewRPCContract(endpoint, contractAddr, builderAddress string, timeout time.Duration) *RPCContract {
	return &RPCContract{
		endpoint:       endpoint,
		contractAddr:   contractAddr,
		builderAddress: builderAddress,
		ethAllowance:   "0x0",
		httpClient:     &http.Client{Timeout: timeout},
		log:            logging.New("component", "chain"),
	}
}

// WithEthAllowance sets the wei value attached to every block-post
// transaction (ETH_ALLOWANCE_FOR_BLOCK), covering the rollup contract's
// relayed deposit gas costs for the block being posted.
func (c *RPCContract) WithEthAllowance(weiHex string) *RPCContract {
	if weiHex != "" {
		c.ethAllowance = weiHex
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *RPCContract) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transientf("chain_rpc_unreachable", err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Transientf("chain_rpc_decode", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("chain rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	return out.Result, nil
}

// CurrentNonce calls the contract's currentNonce(domain) view function via
// eth_call.
func (c *RPCContract) CurrentNonce(ctx context.Context, blockType model.BlockType) (uint64, error) {
	callArgs := map[string]string{
		"to":   c.contractAddr,
		"data": encodeCurrentNonceCall(blockType),
	}
	raw, err := c.call(ctx, "eth_call", callArgs, "latest")
	if err != nil {
		return 0, errs.Transientf("chain_current_nonce", err)
	}
	var hexResult string
	if err := json.Unmarshal(raw, &hexResult); err != nil {
		return 0, errs.Inconsistentf("chain_current_nonce_decode", err)
	}
	return decodeUint64(hexResult)
}

func (c *RPCContract) PostRegistrationBlock(ctx context.Context, task *model.BlockPostTask) (SubmitResult, error) {
	return c.post(ctx, "postRegistrationBlock", task)
}

func (c *RPCContract) PostNonRegistrationBlock(ctx context.Context, task *model.BlockPostTask) (SubmitResult, error) {
	return c.post(ctx, "postNonRegistrationBlock", task)
}

func (c *RPCContract) post(ctx context.Context, entryPoint string, task *model.BlockPostTask) (SubmitResult, error) {
	txArgs := map[string]string{
		"from":  c.builderAddress,
		"to":    c.contractAddr,
		"data":  encodePostCall(entryPoint, task),
		"value": c.ethAllowance,
	}
	_, err := c.call(ctx, "eth_sendTransaction", txArgs)
	if err == nil {
		return Accepted, nil
	}
	return classifyRPCError(err), err
}

func classifyRPCError(err error) SubmitResult {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce"):
		return NonceMismatch
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "gas"):
		return InsufficientGas
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return TxTimeout
	default:
		return PermanentFailure
	}
}

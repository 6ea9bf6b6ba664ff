package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// BridgeClient talks to the external bridge quoting API. The API returns
// a target contract plus calldata to route through the manager's
// generic-call entrypoint.
type BridgeClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewBridgeClient creates a client for the bridge quote API.
func NewBridgeClient(baseURL string, log zerolog.Logger) *BridgeClient {
	return &BridgeClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("component", "bridge_client").Logger(),
	}
}

type bridgeQuoteRequest struct {
	FromChainID uint64 `json:"fromChainId"`
	ToChainID   uint64 `json:"toChainId"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Recipient   string `json:"recipient"`
}

type bridgeQuoteResponse struct {
	MinReceive *BigInt `json:"minReceive"`
	Value      *BigInt `json:"value"`
	Target     string  `json:"target"`
	Calldata   string  `json:"calldata"`
}

// Quote fetches a transfer quote for moving amount from one chain to
// another.
func (c *BridgeClient) Quote(ctx context.Context, req BridgeQuoteRequest) (*BridgeQuote, error) {
	payload, err := json.Marshal(bridgeQuoteRequest{
		FromChainID: req.FromChainID,
		ToChainID:   req.ToChainID,
		Token:       req.Token.Hex(),
		Amount:      req.Amount.String(),
		Recipient:   req.Recipient.Hex(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode quote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quote", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote API returned %d: %s", resp.StatusCode, string(body))
	}

	var out bridgeQuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}
	if out.MinReceive == nil || out.Value == nil {
		return nil, fmt.Errorf("quote response missing amounts")
	}

	quote := &BridgeQuote{
		MinReceive: &out.MinReceive.Int,
		Value:      &out.Value.Int,
		Target:     common.HexToAddress(out.Target),
		Calldata:   common.FromHex(out.Calldata),
	}

	c.log.Debug().
		Uint64("from", req.FromChainID).
		Uint64("to", req.ToChainID).
		Str("min_receive", quote.MinReceive.String()).
		Msg("Bridge quote received")

	return quote, nil
}

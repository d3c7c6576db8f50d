package polymarket

// trading.go — Real order execution via Polymarket CLOB API.
//
// Implements ports.OrderExecutor using AuthClient for L1/L2 auth. Orders go
// out as GTC limit orders; the trader biases the price to make them
// marketable. Share balances are read straight from the ERC-1155 contract
// on Polygon — on-chain state is the ground truth the reconciler trusts.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/risk"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobOrderDetail is the response of GET /order/{hash}.
type clobOrderDetail struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
}

const ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

const (
	tradingRequestsPerMinute = 120
	tradingMinInterval       = 250 * time.Millisecond
)

var balanceOfERC1155 abi.ABI

func init() {
	var err error
	balanceOfERC1155, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf erc1155 abi: " + err.Error())
	}
}

// TradingClient implements ports.OrderExecutor.
type TradingClient struct {
	auth      *AuthClient
	rpcClient *ethclient.Client
	requests  *risk.RequestLedger
}

// NewTradingClient creates a TradingClient. rpcURL is used for on-chain
// share balance checks. Every mutating call goes through the request
// ledger so a busy tick cannot trip the venue's account-level limits.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trading: dial rpc: %w", err)
	}
	return &TradingClient{
		auth:      auth,
		rpcClient: rpc,
		requests:  risk.NewRequestLedger(tradingRequestsPerMinute, tradingMinInterval),
	}, nil
}

// PlaceOrder signs and submits a limit order to the CLOB.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	if err := tc.requests.Acquire(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: %w", err)
	}
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: creds: %w", err)
	}

	signed, err := tc.auth.buildSignedOrder(req.TokenID, req.PriceCents, req.SizeShares, req.Action)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Action),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.PlacedOrder{}, fmt.Errorf("place order: clob error: %s", resp.ErrorMsg)
	}

	return domain.PlacedOrder{
		VenueID:     resp.OrderID,
		State:       mapOrderState(resp.Status),
		TakenShares: parseMicroUnits(resp.TakingAmount),
		MadeShares:  parseMicroUnits(resp.MakingAmount),
	}, nil
}

// CancelAll cancels all open orders for this wallet.
func (tc *TradingClient) CancelAll(ctx context.Context) error {
	if err := tc.requests.Acquire(ctx); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel all: creds: %w", err)
	}

	if err := tc.auth.doL2(ctx, http.MethodDelete, "/orders", nil, nil); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	return nil
}

// OrderStatus polls the CLOB for the state of a submitted order.
func (tc *TradingClient) OrderStatus(ctx context.Context, venueID string) (domain.OrderStatus, error) {
	if err := tc.requests.Acquire(ctx); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("order status: %w", err)
	}
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("order status: creds: %w", err)
	}

	var detail clobOrderDetail
	if err := tc.auth.doL2(ctx, http.MethodGet, "/order/"+venueID, nil, &detail); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("order status %s: %w", venueID, err)
	}

	return domain.OrderStatus{
		VenueID:      venueID,
		State:        mapOrderState(detail.Status),
		FilledShares: parseMicroUnits(detail.SizeMatched),
		AvgFillCents: domain.ParsePrice(detail.Price) * 100,
	}, nil
}

// TokenBalance returns the on-chain ERC-1155 balance for a conditional token.
// Returns shares (not micro-units) — e.g. 13.51 means 13.51 shares.
func (tc *TradingClient) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	if err := tc.requests.Acquire(ctx); err != nil {
		return 0, fmt.Errorf("token balance: %w", err)
	}
	tid := new(big.Int)
	if _, ok := tid.SetString(tokenID, 10); !ok {
		tidBytes, err := hex.DecodeString(strings.TrimPrefix(tokenID, "0x"))
		if err != nil {
			return 0, fmt.Errorf("token balance: invalid token ID: %s", tokenID)
		}
		tid.SetBytes(tidBytes)
	}

	callData, err := balanceOfERC1155.Pack("balanceOf", tc.auth.address, tid)
	if err != nil {
		return 0, fmt.Errorf("token balance: pack: %w", err)
	}

	ctf := common.HexToAddress(ctfAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &ctf,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("token balance: call: %w", err)
	}

	vals, err := balanceOfERC1155.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("token balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	shares := new(big.Float).SetInt(raw)
	shares.Quo(shares, big.NewFloat(1e6))
	f, _ := shares.Float64()
	return f, nil
}

// mapOrderState normalizes the CLOB status strings.
func mapOrderState(s string) domain.OrderState {
	upper := strings.ToUpper(s)
	switch {
	case strings.Contains(upper, "MATCHED") || upper == "FILLED":
		return domain.OrderStateFilled
	case strings.Contains(upper, "PARTIAL"):
		return domain.OrderStatePartial
	case strings.Contains(upper, "CANCEL") || strings.Contains(upper, "INVALID"):
		return domain.OrderStateCancelled
	case upper == "LIVE" || upper == "OPEN" || upper == "DELAYED":
		return domain.OrderStateOpen
	}
	return domain.OrderStateUnknown
}

// parseMicroUnits converts a micro-unit string (e.g. "1000000") to a float
// count: shares for share fields, USDC for USDC fields.
func parseMicroUnits(s string) float64 {
	if s == "" {
		return 0
	}
	n := new(big.Int)
	n.SetString(s, 10)
	f, _ := new(big.Float).SetInt(n).Float64()
	return f / 1_000_000
}

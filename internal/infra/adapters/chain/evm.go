package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// weiTolerance absorbs wallets that round the native value to gwei.
var weiTolerance = big.NewInt(1_000_000_000)

const erc20TransferABI = `[{"anonymous":false,"inputs":[
{"indexed":true,"name":"from","type":"address"},
{"indexed":true,"name":"to","type":"address"},
{"indexed":false,"name":"value","type":"uint256"}],
"name":"Transfer","type":"event"}]`

var erc20ABI = mustParseABI(erc20TransferABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// evmBackend is the subset of ethclient.Client used for verification.
type evmBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// EVMOptions configures an EVM rollup adapter.
type EVMOptions struct {
	Chain        model.Chain
	ChainID      int64
	Recipient    string
	USDCContract string // empty disables USDC options
}

// EVMAdapter accepts native ETH or USDC on an EVM rollup (Base by default).
// Payment URIs follow EIP-681; verification needs the settlement tx hash.
type EVMAdapter struct {
	backend   evmBackend
	oracle    adapter.PriceOracle
	chain     model.Chain
	chainID   *big.Int
	recipient common.Address
	usdc      common.Address
	hasUSDC   bool
	log       *zerolog.Logger
}

var _ adapter.ChainAdapter = (*EVMAdapter)(nil)

// NewEVMAdapter dials the rollup RPC endpoint.
func NewEVMAdapter(ctx context.Context, rpcURL string, opts EVMOptions, oracle adapter.PriceOracle, logger *zerolog.Logger) (*EVMAdapter, error) {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", opts.Chain, err)
	}
	return newEVMAdapter(cli, opts, oracle, logger)
}

func newEVMAdapter(b evmBackend, opts EVMOptions, oracle adapter.PriceOracle, logger *zerolog.Logger) (*EVMAdapter, error) {
	if !common.IsHexAddress(opts.Recipient) {
		return nil, fmt.Errorf("%w: recipient %q is not an address", domain.ErrInvalidArgument, opts.Recipient)
	}
	if opts.USDCContract != "" && !common.IsHexAddress(opts.USDCContract) {
		return nil, fmt.Errorf("%w: usdc contract %q is not an address", domain.ErrInvalidArgument, opts.USDCContract)
	}
	if opts.Chain == "" {
		opts.Chain = model.ChainBase
	}
	l := logger.With().Str("chain", string(opts.Chain)).Logger()
	return &EVMAdapter{
		backend:   b,
		oracle:    oracle,
		chain:     opts.Chain,
		chainID:   big.NewInt(opts.ChainID),
		recipient: common.HexToAddress(opts.Recipient),
		usdc:      common.HexToAddress(opts.USDCContract),
		hasUSDC:   opts.USDCContract != "",
		log:       &l,
	}, nil
}

func (e *EVMAdapter) Chain() model.Chain { return e.chain }

func (e *EVMAdapter) Currencies() []string {
	if e.hasUSDC {
		return []string{model.CurrencyETH, model.CurrencyUSDC}
	}
	return []string{model.CurrencyETH}
}

func (e *EVMAdapter) ConvertUSDToNative(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error) {
	if !supports(e.Currencies(), currency) {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", domain.ErrUnsupportedCurrency, e.chain, currency)
	}
	return convertUSD(ctx, e.oracle, usd, currency)
}

func (e *EVMAdapter) CreatePayment(ctx context.Context, req adapter.PaymentRequest, amount decimal.Decimal, currency string) (*model.PaymentOption, error) {
	if !supports(e.Currencies(), currency) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnsupportedCurrency, e.chain, currency)
	}
	units := toBaseUnits(amount, currency)
	if units.Sign() <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	var uri string
	switch currency {
	case model.CurrencyETH:
		uri = fmt.Sprintf("ethereum:%s@%d?value=%d", e.recipient.Hex(), e.chainID, units)
	case model.CurrencyUSDC:
		q := url.Values{}
		q.Set("address", e.recipient.Hex())
		q.Set("uint256", units.String())
		uri = fmt.Sprintf("ethereum:%s@%d/transfer?%s", e.usdc.Hex(), e.chainID, q.Encode())
	}

	return &model.PaymentOption{
		Chain:      e.chain,
		Amount:     fromBaseUnits(units, currency),
		Currency:   currency,
		PaymentURI: uri,
		Recipient:  e.recipient.Hex(),
		Reference:  ulid.Make().String(),
		ExpiresAt:  req.ExpiresAt,
		Label:      req.Label,
	}, nil
}

// VerifyPayment loads the settlement transaction and its receipt. Transfers to the USDC
// contract are matched against the USDC option through the Transfer event log; anything
// else is treated as a native ETH transfer.
func (e *EVMAdapter) VerifyPayment(ctx context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error) {
	if q.SettlementID == "" {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonSettlementMissing, "settlement transaction hash is required"), nil
	}
	if len(q.Options) == 0 {
		return nil, fmt.Errorf("%w: no %s option for payment %s", domain.ErrInvalidArgument, e.chain, q.PaymentID)
	}
	raw, err := hexBytes(q.SettlementID)
	if err != nil || len(raw) != common.HashLength {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonNotFound, "malformed transaction hash"), nil
	}
	hash := common.BytesToHash(raw)

	tx, pending, err := e.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonNotFound, "transaction not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getTransactionByHash: %w", domain.ErrProviderFailure, err)
	}
	if pending {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonNotSettled, "transaction is pending"), nil
	}
	receipt, err := e.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonNotSettled, "receipt not available yet"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getTransactionReceipt: %w", domain.ErrProviderFailure, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonTxFailed, "transaction reverted"), nil
	}

	ts, err := e.blockTime(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	if !q.CreatedAt.IsZero() && ts.Before(q.CreatedAt.Add(-time.Minute)) {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonSettlementReused, "transaction predates the payment request"), nil
	}

	if e.hasUSDC && tx.To() != nil && *tx.To() == e.usdc {
		opt, ok := optionFor(q.Options, model.CurrencyUSDC)
		if !ok {
			return model.FailedVerification(q.PaymentID, e.chain, model.ReasonAmountMismatch, "usdc was not offered for this payment"), nil
		}
		return e.verifyUSDC(q.PaymentID, hash, receipt, opt, ts), nil
	}
	opt, ok := optionFor(q.Options, model.CurrencyETH)
	if !ok {
		return model.FailedVerification(q.PaymentID, e.chain, model.ReasonAmountMismatch, "eth was not offered for this payment"), nil
	}
	return e.verifyNative(q.PaymentID, tx, opt, ts), nil
}

func (e *EVMAdapter) verifyNative(paymentID string, tx *types.Transaction, opt model.PaymentOption, ts time.Time) *model.PaymentVerification {
	payer := ""
	if from, err := types.Sender(types.LatestSignerForChainID(e.chainID), tx); err == nil {
		payer = from.Hex()
	}
	if tx.To() == nil || *tx.To() != e.recipient {
		v := model.FailedVerification(paymentID, e.chain, model.ReasonRecipientMismatch, "transaction is not sent to the merchant")
		v.TxID, v.Payer = tx.Hash().Hex(), payer
		return v
	}
	expected := toBaseUnits(opt.Amount, model.CurrencyETH)
	floor := new(big.Int).Sub(expected, weiTolerance)
	if tx.Value().Cmp(floor) < 0 {
		v := model.FailedVerification(paymentID, e.chain, model.ReasonAmountMismatch,
			fmt.Sprintf("received %d wei, expected %d", tx.Value(), expected))
		v.TxID, v.Payer = tx.Hash().Hex(), payer
		return v
	}
	return &model.PaymentVerification{
		Verified:  true,
		PaymentID: paymentID,
		Chain:     e.chain,
		Amount:    fromBaseUnits(tx.Value(), model.CurrencyETH),
		Currency:  model.CurrencyETH,
		TxID:      tx.Hash().Hex(),
		Payer:     payer,
		Recipient: e.recipient.Hex(),
		Timestamp: ts,
	}
}

func (e *EVMAdapter) verifyUSDC(paymentID string, hash common.Hash, receipt *types.Receipt, opt model.PaymentOption, ts time.Time) *model.PaymentVerification {
	expected := toBaseUnits(opt.Amount, model.CurrencyUSDC)
	transferID := erc20ABI.Events["Transfer"].ID

	var (
		received = new(big.Int)
		payer    string
	)
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != e.usdc || len(lg.Topics) != 3 || lg.Topics[0] != transferID {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != e.recipient {
			continue
		}
		var ev struct{ Value *big.Int }
		if err := erc20ABI.UnpackIntoInterface(&ev, "Transfer", lg.Data); err != nil || ev.Value == nil {
			e.log.Warn().Err(err).Str("tx", hash.Hex()).Msg("undecodable Transfer log")
			continue
		}
		received.Add(received, ev.Value)
		payer = common.BytesToAddress(lg.Topics[1].Bytes()).Hex()
	}

	if received.Sign() == 0 {
		v := model.FailedVerification(paymentID, e.chain, model.ReasonRecipientMismatch, "no USDC transfer to the merchant")
		v.TxID = hash.Hex()
		return v
	}
	if received.Cmp(expected) < 0 {
		v := model.FailedVerification(paymentID, e.chain, model.ReasonAmountMismatch,
			fmt.Sprintf("received %d USDC units, expected %d", received, expected))
		v.TxID, v.Payer = hash.Hex(), payer
		return v
	}
	return &model.PaymentVerification{
		Verified:  true,
		PaymentID: paymentID,
		Chain:     e.chain,
		Amount:    fromBaseUnits(received, model.CurrencyUSDC),
		Currency:  model.CurrencyUSDC,
		TxID:      hash.Hex(),
		Payer:     payer,
		Recipient: e.recipient.Hex(),
		Timestamp: ts,
	}
}

func (e *EVMAdapter) blockTime(ctx context.Context, number *big.Int) (time.Time, error) {
	if number == nil {
		return time.Now().UTC(), nil
	}
	h, err := e.backend.HeaderByNumber(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: eth_getBlockByNumber: %w", domain.ErrProviderFailure, err)
	}
	return time.Unix(int64(h.Time), 0).UTC(), nil
}

func hexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return hex.DecodeString(s)
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// lamportTolerance absorbs rounding in wallets that build the transfer from a float amount.
const lamportTolerance = 1

// balanceChange is what a settled Solana transaction did to one account.
type balanceChange struct {
	Signature string
	Delta     int64 // lamports received by the account
	Payer     string
	BlockTime time.Time
	Failed    bool
}

// ledgerRPC is the slice of the Solana JSON-RPC API the adapter needs.
type ledgerRPC interface {
	// SignaturesForAddress lists transaction signatures that reference account.
	SignaturesForAddress(ctx context.Context, account solana.PublicKey) ([]solana.Signature, error)
	// BalanceChange loads a transaction and reports the lamport delta of account.
	BalanceChange(ctx context.Context, sig solana.Signature, account solana.PublicKey) (*balanceChange, error)
}

// SolanaAdapter settles payments with Solana Pay transfer requests.
// Each option carries a fresh reference public key that the payer's wallet attaches
// to the transfer as a read-only account; verification searches for it.
type SolanaAdapter struct {
	rpc       ledgerRPC
	oracle    adapter.PriceOracle
	recipient solana.PublicKey
	label     string
	log       *zerolog.Logger
}

var _ adapter.ChainAdapter = (*SolanaAdapter)(nil)

// NewSolanaAdapter dials nothing; rpc.New only records the endpoint.
func NewSolanaAdapter(rpcURL, recipient, label string, oracle adapter.PriceOracle, logger *zerolog.Logger) (*SolanaAdapter, error) {
	return newSolanaAdapter(&solanaRPCClient{cli: rpc.New(rpcURL)}, recipient, label, oracle, logger)
}

func newSolanaAdapter(r ledgerRPC, recipient, label string, oracle adapter.PriceOracle, logger *zerolog.Logger) (*SolanaAdapter, error) {
	pk, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return nil, fmt.Errorf("solana recipient: %w", err)
	}
	l := logger.With().Str("chain", string(model.ChainSolana)).Logger()
	return &SolanaAdapter{rpc: r, oracle: oracle, recipient: pk, label: label, log: &l}, nil
}

func (s *SolanaAdapter) Chain() model.Chain { return model.ChainSolana }
func (s *SolanaAdapter) Currencies() []string { return []string{model.CurrencySOL} }

func (s *SolanaAdapter) ConvertUSDToNative(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error) {
	if !supports(s.Currencies(), currency) {
		return decimal.Zero, fmt.Errorf("%w: solana/%s", domain.ErrUnsupportedCurrency, currency)
	}
	return convertUSD(ctx, s.oracle, usd, currency)
}

func (s *SolanaAdapter) CreatePayment(ctx context.Context, req adapter.PaymentRequest, amount decimal.Decimal, currency string) (*model.PaymentOption, error) {
	if !supports(s.Currencies(), currency) {
		return nil, fmt.Errorf("%w: solana/%s", domain.ErrUnsupportedCurrency, currency)
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	ref, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("solana reference: %w", err)
	}
	reference := ref.PublicKey().String()
	amount = amount.RoundUp(decimalsByCurrency[currency])

	label := req.Label
	if label == "" {
		label = s.label
	}
	q := url.Values{}
	q.Set("amount", amount.String())
	q.Set("reference", reference)
	if label != "" {
		q.Set("label", label)
	}
	if req.Message != "" {
		q.Set("message", req.Message)
	}
	q.Set("memo", req.PaymentID)

	return &model.PaymentOption{
		Chain:      model.ChainSolana,
		Amount:     amount,
		Currency:   currency,
		PaymentURI: "solana:" + s.recipient.String() + "?" + q.Encode(),
		Recipient:  s.recipient.String(),
		Reference:  reference,
		ExpiresAt:  req.ExpiresAt,
		Label:      label,
	}, nil
}

// VerifyPayment finds transactions that carry the option's reference key and accepts the
// first successful one that moved at least the expected lamports into the recipient.
// A SettlementID, when given, restricts the search to that signature.
func (s *SolanaAdapter) VerifyPayment(ctx context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error) {
	opt, ok := optionFor(q.Options, model.CurrencySOL)
	if !ok {
		return nil, fmt.Errorf("%w: no solana option for payment %s", domain.ErrInvalidArgument, q.PaymentID)
	}
	ref, err := solana.PublicKeyFromBase58(opt.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reference: %v", domain.ErrInvalidArgument, err)
	}

	sigs, err := s.rpc.SignaturesForAddress(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: getSignaturesForAddress: %w", domain.ErrProviderFailure, err)
	}
	if len(sigs) == 0 {
		return model.FailedVerification(q.PaymentID, model.ChainSolana, model.ReasonNotFound, "no transaction references this payment yet"), nil
	}

	expected := toBaseUnits(opt.Amount, model.CurrencySOL).Int64()
	var short *balanceChange
	for _, sig := range sigs {
		if q.SettlementID != "" && sig.String() != q.SettlementID {
			continue
		}
		ch, err := s.rpc.BalanceChange(ctx, sig, s.recipient)
		if err != nil {
			return nil, fmt.Errorf("%w: getTransaction %s: %w", domain.ErrProviderFailure, sig, err)
		}
		if ch.Failed {
			continue
		}
		if ch.Delta+lamportTolerance >= expected {
			s.log.Debug().Str("signature", ch.Signature).Int64("lamports", ch.Delta).Msg("solana payment found")
			return &model.PaymentVerification{
				Verified:  true,
				PaymentID: q.PaymentID,
				Chain:     model.ChainSolana,
				Amount:    fromBaseUnits(big.NewInt(ch.Delta), model.CurrencySOL),
				Currency:  model.CurrencySOL,
				TxID:      ch.Signature,
				Payer:     ch.Payer,
				Recipient: s.recipient.String(),
				Timestamp: ch.BlockTime,
			}, nil
		}
		if short == nil {
			short = ch
		}
	}

	if short != nil {
		v := model.FailedVerification(q.PaymentID, model.ChainSolana, model.ReasonAmountMismatch,
			fmt.Sprintf("received %d lamports, expected %d", short.Delta, expected))
		v.TxID = short.Signature
		v.Payer = short.Payer
		return v, nil
	}
	return model.FailedVerification(q.PaymentID, model.ChainSolana, model.ReasonNotFound, "no successful transfer to the recipient"), nil
}

// solanaRPCClient implements ledgerRPC over solana-go's JSON-RPC client.
type solanaRPCClient struct {
	cli *rpc.Client
}

func (c *solanaRPCClient) SignaturesForAddress(ctx context.Context, account solana.PublicKey) ([]solana.Signature, error) {
	res, err := c.cli.GetSignaturesForAddress(ctx, account)
	if err != nil {
		return nil, err
	}
	out := make([]solana.Signature, 0, len(res))
	for _, r := range res {
		if r == nil || r.Err != nil {
			continue
		}
		out = append(out, r.Signature)
	}
	return out, nil
}

func (c *solanaRPCClient) BalanceChange(ctx context.Context, sig solana.Signature, account solana.PublicKey) (*balanceChange, error) {
	maxVersion := uint64(0)
	res, err := c.cli.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return nil, errors.New("transaction has no metadata")
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	ch := &balanceChange{Signature: sig.String(), Failed: res.Meta.Err != nil}
	if res.BlockTime != nil {
		ch.BlockTime = res.BlockTime.Time().UTC()
	}
	keys := tx.Message.AccountKeys
	if len(keys) > 0 {
		ch.Payer = keys[0].String()
	}
	for i, k := range keys {
		if !k.Equals(account) {
			continue
		}
		if i < len(res.Meta.PreBalances) && i < len(res.Meta.PostBalances) {
			ch.Delta = int64(res.Meta.PostBalances[i]) - int64(res.Meta.PreBalances[i])
		}
		break
	}
	return ch, nil
}

package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Errors for on-chain ledger failures.
var (
	ErrInvalidPrivateKey = errors.New("token: invalid private key")
	ErrInvalidAddress    = errors.New("token: invalid address")
	ErrRPCConnection     = errors.New("token: RPC connection failed")
	ErrTimeout           = errors.New("token: operation timed out")
)

// TxError wraps on-chain failures with the operation and tx hash.
type TxError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("token: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("token: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// Minimal ABI for a burnable ERC-20: transfer and burn.
const erc20BurnableABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"value","type":"uint256"}],"name":"burn","outputs":[],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const (
	// DefaultGasLimit for ERC-20 calls when estimation fails.
	DefaultGasLimit = uint64(100000)

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second
)

// EthClient abstracts go-ethereum's client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// EthConfig configures the on-chain token ledger adapter.
type EthConfig struct {
	RPCURL        string
	PrivateKey    string // hex, with or without 0x prefix
	ChainID       int64
	TokenContract string
	TreasuryAddr  string
}

// EthOption configures the adapter.
type EthOption func(*EthLedger)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) EthOption {
	return func(l *EthLedger) { l.client = client }
}

// EthLedger implements Ledger against a burnable ERC-20 contract.
type EthLedger struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	contract   common.Address
	treasury   common.Address
	tokenABI   abi.ABI
}

var _ Ledger = (*EthLedger)(nil)

// NewEthLedger creates the on-chain adapter.
func NewEthLedger(cfg EthConfig, opts ...EthOption) (*EthLedger, error) {
	if cfg.TokenContract == "" || !common.IsHexAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("%w: token contract", ErrInvalidAddress)
	}
	if cfg.TreasuryAddr != "" && !common.IsHexAddress(cfg.TreasuryAddr) {
		return nil, fmt.Errorf("%w: treasury", ErrInvalidAddress)
	}

	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20BurnableABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	l := &EthLedger{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.TokenContract),
		treasury:   common.HexToAddress(cfg.TreasuryAddr),
		tokenABI:   parsedABI,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		l.client = client
	}

	return l, nil
}

// Burn calls burn(amount) on the token contract, reducing total supply.
func (l *EthLedger) Burn(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	data, err := l.tokenABI.Pack("burn", amount)
	if err != nil {
		return &TxError{Op: "pack_burn", Err: err}
	}
	_, err = l.send(ctx, data)
	return err
}

// Transfer sends amount to the given address.
func (l *EthLedger) Transfer(ctx context.Context, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	dest := l.treasury
	if to != "" {
		if !common.IsHexAddress(to) {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, to)
		}
		dest = common.HexToAddress(to)
	}
	data, err := l.tokenABI.Pack("transfer", dest, amount)
	if err != nil {
		return &TxError{Op: "pack_transfer", Err: err}
	}
	_, err = l.send(ctx, data)
	return err
}

// TotalSupply reads the current on-chain supply.
func (l *EthLedger) TotalSupply(ctx context.Context) (*big.Int, error) {
	data, err := l.tokenABI.Pack("totalSupply")
	if err != nil {
		return nil, &TxError{Op: "pack_total_supply", Err: err}
	}
	result, err := l.client.CallContract(ctx, ethereum.CallMsg{
		To:   &l.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, &TxError{Op: "total_supply", Err: err}
	}
	return new(big.Int).SetBytes(result), nil
}

// send signs and submits a contract call, returning the tx hash.
func (l *EthLedger) send(ctx context.Context, data []byte) (string, error) {
	nonce, err := l.client.PendingNonceAt(ctx, l.address)
	if err != nil {
		return "", &TxError{Op: "nonce", Err: err}
	}

	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", &TxError{Op: "gas_price", Err: err}
	}

	gasLimit, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  l.address,
		To:    &l.contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, l.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), l.privateKey)
	if err != nil {
		return "", &TxError{Op: "sign", Err: err}
	}

	if err := l.client.SendTransaction(ctx, signedTx); err != nil {
		return "", &TxError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}
	return signedTx.Hash().Hex(), nil
}

// WaitForConfirmation polls until the transaction is mined or the timeout
// elapses.
func (l *EthLedger) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: waiting for tx %s", ErrTimeout, txHash)
			}
			return ctx.Err()
		case <-ticker.C:
			receipt, err := l.client.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // not mined yet
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				return &TxError{Op: "confirm", TxHash: txHash, Err: errors.New("reverted")}
			}
			return nil
		}
	}
}

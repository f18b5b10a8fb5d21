package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"course_rewards/internal/domain/chain"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval  = 3 * time.Second
	defaultConfirmations = 1
)

// Config describes the token contract and how award transactions are
// confirmed.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	Confirmations   uint64
	PollInterval    time.Duration
}

// receiptReader is the part of the RPC client used to follow a transaction.
type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Session is one dialed connection to the token contract. It implements
// chain.AwardLedger and must be closed on shutdown.
type Session struct {
	client        *ethclient.Client
	receipts      receiptReader
	contract      *bind.BoundContract
	address       common.Address
	wallet        Wallet
	chainID       *big.Int
	confirmations uint64
	pollInterval  time.Duration
	logger        *logrus.Entry
}

var _ chain.AwardLedger = (*Session)(nil)

// Dial connects to the RPC endpoint and verifies the node serves cfg.ChainID.
func Dial(ctx context.Context, cfg Config, wallet Wallet, logger *logrus.Entry) (*Session, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid token contract address %q", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(TokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	remoteID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if remoteID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: node serves %s, configured %d", remoteID, cfg.ChainID)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	s := newSession(client, bind.NewBoundContract(address, parsed, client, client, client), cfg, wallet, logger)
	s.client = client
	s.address = address

	s.logger.WithFields(logrus.Fields{
		"chain_id": cfg.ChainID,
		"contract": address.Hex(),
		"awarder":  wallet.Address().Hex(),
	}).Info("Connected to token contract")
	return s, nil
}

func newSession(receipts receiptReader, contract *bind.BoundContract, cfg Config, wallet Wallet, logger *logrus.Entry) *Session {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = defaultConfirmations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Session{
		receipts:      receipts,
		contract:      contract,
		wallet:        wallet,
		chainID:       big.NewInt(cfg.ChainID),
		confirmations: cfg.Confirmations,
		pollInterval:  cfg.PollInterval,
		logger:        logger.WithField("component", "token_session"),
	}
}

func (s *Session) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *Session) ValidAddress(addr string) bool {
	return common.IsHexAddress(addr) && common.HexToAddress(addr) != (common.Address{})
}

func (s *Session) HasCourseCompleted(ctx context.Context, studentAddress string, courseID int64) (bool, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasCourseCompleted",
		common.HexToAddress(studentAddress), big.NewInt(courseID))
	if err != nil {
		return false, classify("hasCourseCompleted", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("hasCourseCompleted: unexpected result length %d", len(out))
	}
	done, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("hasCourseCompleted: unexpected result type %T", out[0])
	}
	return done, nil
}

func (s *Session) CompletedCourses(ctx context.Context, studentAddress string) ([]int64, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCompletedCourses", common.HexToAddress(studentAddress))
	if err != nil {
		return nil, classify("getCompletedCourses", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("getCompletedCourses: unexpected result length %d", len(out))
	}
	ids, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getCompletedCourses: unexpected result type %T", out[0])
	}
	courses := make([]int64, 0, len(ids))
	for _, id := range ids {
		courses = append(courses, id.Int64())
	}
	return courses, nil
}

// AwardTokens broadcasts awardTokens and returns the transaction hash without
// waiting for it to be mined.
func (s *Session) AwardTokens(ctx context.Context, studentAddress string, courseID int64) (string, error) {
	opts, err := s.wallet.Transactor(ctx, s.chainID)
	if err != nil {
		return "", &chain.RejectedError{Reason: err.Error()}
	}
	tx, err := s.contract.Transact(opts, "awardTokens", common.HexToAddress(studentAddress), big.NewInt(courseID))
	if err != nil {
		return "", classify("awardTokens", err)
	}
	s.logger.WithFields(logrus.Fields{
		"tx_hash":   tx.Hash().Hex(),
		"student":   studentAddress,
		"course_id": courseID,
		"nonce":     tx.Nonce(),
	}).Info("awardTokens transaction broadcast")
	return tx.Hash().Hex(), nil
}

// WaitConfirmed polls until the receipt for txHash has the configured number
// of confirmations. A failed receipt is reported as a rejection.
func (s *Session) WaitConfirmed(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		done, err := s.checkReceipt(ctx, hash)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Session) checkReceipt(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := s.receipts.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, goethereum.NotFound) {
			return false, nil // not mined yet
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.WithError(err).WithField("tx_hash", hash.Hex()).Warn("Failed to fetch receipt, will retry")
		return false, nil
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return false, nil
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return false, &chain.RejectedError{Reason: fmt.Sprintf("transaction %s reverted in block %s", hash.Hex(), receipt.BlockNumber)}
	}

	current, err := s.receipts.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.WithError(err).Warn("Failed to fetch block number, will retry")
		return false, nil
	}
	mined := receipt.BlockNumber.Uint64()
	if current < mined {
		return false, nil
	}
	return current-mined+1 >= s.confirmations, nil
}

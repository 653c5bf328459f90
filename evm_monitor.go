package main

import (
	"context"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ipfs/go-log/v2"
	"github.com/layer-3/clearsync/pkg/debounce"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ethLogger = log.Logger("evm-monitor")

const (
	maxBackOffCount = 5
)

// Ethereum abstracts the EVM RPC client so tests can substitute a mock.
type Ethereum interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (gas uint64, err error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// transferEventTopic is the topic hash of the ERC-20 Transfer event.
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMMonitor watches one EVM chain for payments to the receiving address:
// token transfers through a filtered Transfer-log subscription, native
// transfers by inspecting the transactions of each new block. Token logs are
// additionally reconciled from the last observed block on startup, so a crash
// never loses a token payment. Every observed transfer is deduplicated by
// (chain, txRef, logIndex) before matching.
type EVMMonitor struct {
	client     Ethereum
	db         *gorm.DB
	blockchain BlockchainConfig
	tokens     []AssetTokenConfig
	matcher    *SessionMatcher
	metrics    *Metrics
	logger     Logger

	receivingAddr  common.Address
	tokenAddresses []common.Address
	txSigner       types.Signer
}

func NewEVMMonitor(
	client Ethereum,
	db *gorm.DB,
	blockchain BlockchainConfig,
	assets AssetsConfig,
	matcher *SessionMatcher,
	metrics *Metrics,
	logger Logger,
) *EVMMonitor {
	m := &EVMMonitor{
		client:        client,
		db:            db,
		blockchain:    blockchain,
		matcher:       matcher,
		metrics:       metrics,
		logger:        logger.NewSystem("evm-monitor").With("chain", blockchain.Name),
		receivingAddr: common.HexToAddress(blockchain.ReceivingAddress),
		txSigner:      types.LatestSignerForChainID(big.NewInt(int64(blockchain.ID))),
	}

	for _, token := range assets.GetAssetTokensByChainID(blockchain.ID) {
		if token.Token.Native {
			continue
		}
		m.tokens = append(m.tokens, token)
		m.tokenAddresses = append(m.tokenAddresses, common.HexToAddress(token.Token.Address))
	}
	return m
}

// Run watches the chain until the context is cancelled. Subscription drops are
// resubscribed with backoff; per-event errors are logged and skipped so one
// malformed event cannot halt monitoring for the whole chain.
func (m *EVMMonitor) Run(ctx context.Context) {
	lastBlock := m.loadCursor()

	var backOffCount atomic.Uint64
	var historicalCh, logCh chan types.Log
	var headCh chan *types.Header
	var logSubscription, headSubscription event.Subscription

	m.logger.Info("starting transfer monitoring",
		"chainID", m.blockchain.ID,
		"receivingAddress", m.receivingAddr.String(),
		"tokens", len(m.tokenAddresses),
		"lastBlock", lastBlock)

	defer func() {
		if logSubscription != nil {
			logSubscription.Unsubscribe()
		}
		if headSubscription != nil {
			headSubscription.Unsubscribe()
		}
	}()

	for {
		if ctx.Err() != nil {
			m.logger.Info("transfer monitoring stopped")
			return
		}

		if logSubscription == nil {
			waitForBackOffTimeout(m.logger, int(backOffCount.Load()), "transfer subscription")

			historicalCh = make(chan types.Log, 1)
			logCh = make(chan types.Log, 100)
			headCh = make(chan *types.Header, 16)

			if lastBlock == 0 || len(m.tokenAddresses) == 0 {
				m.logger.Info("skipping historical log fetching", "chainID", m.blockchain.ID)
			} else {
				var header *types.Header
				var err error
				headerCtx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
				err = debounce.Debounce(headerCtx, ethLogger, func(ctx context.Context) error {
					header, err = m.client.HeaderByNumber(ctx, nil)
					return err
				})
				cancel()
				if err != nil {
					m.logger.Error("failed to get latest block", "error", err, "chainID", m.blockchain.ID)
					backOffCount.Add(1)
					continue
				}

				go m.reconcileBlockRange(header.Number.Uint64(), lastBlock, historicalCh)
			}

			watchFQ := ethereum.FilterQuery{
				Addresses: m.tokenAddresses,
				Topics: [][]common.Hash{
					{transferEventTopic},
					nil,
					{recipientTopic(m.receivingAddr)},
				},
			}
			logSub, err := m.client.SubscribeFilterLogs(context.Background(), watchFQ, logCh)
			if err != nil {
				m.logger.Error("failed to subscribe on transfer logs", "error", err, "chainID", m.blockchain.ID)
				backOffCount.Add(1)
				continue
			}

			headSub, err := m.client.SubscribeNewHead(context.Background(), headCh)
			if err != nil {
				logSub.Unsubscribe()
				m.logger.Error("failed to subscribe on new heads", "error", err, "chainID", m.blockchain.ID)
				backOffCount.Add(1)
				continue
			}

			logSubscription = logSub
			headSubscription = headSub
			m.logger.Info("watching transfers", "chainID", m.blockchain.ID)
			backOffCount.Store(0)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("transfer monitoring stopped")
			return
		case eventLog := <-historicalCh:
			m.handleTransferLog(eventLog)
		case eventLog := <-logCh:
			lastBlock = eventLog.BlockNumber
			m.handleTransferLog(eventLog)
			m.saveCursor(eventLog.BlockNumber)
		case header := <-headCh:
			m.handleNewBlock(ctx, header.Number)
			if n := header.Number.Uint64(); n > lastBlock {
				lastBlock = n
				m.saveCursor(n)
			}
		case err := <-logSubscription.Err():
			m.recordResubscribe("transfer logs", err)
			logSubscription.Unsubscribe()
			headSubscription.Unsubscribe()
			logSubscription, headSubscription = nil, nil
		case err := <-headSubscription.Err():
			m.recordResubscribe("new heads", err)
			logSubscription.Unsubscribe()
			headSubscription.Unsubscribe()
			logSubscription, headSubscription = nil, nil
		}
	}
}

func (m *EVMMonitor) recordResubscribe(origin string, err error) {
	if err != nil {
		m.logger.Error("subscription error, resubscribing", "origin", origin, "error", err, "chainID", m.blockchain.ID)
		// NOTE: connection errors on continuous subscriptions are normal, no backoff
	} else {
		m.logger.Debug("subscription closed, resubscribing", "origin", origin, "chainID", m.blockchain.ID)
	}
	if m.metrics != nil {
		m.metrics.MonitorReconnects.WithLabelValues(chainIDLabel(m.blockchain.ID)).Inc()
	}
}

// handleTransferLog converts an ERC-20 Transfer log into a transfer event and
// hands it to the matcher.
func (m *EVMMonitor) handleTransferLog(l types.Log) {
	if len(l.Topics) != 3 || l.Topics[0] != transferEventTopic {
		m.logger.Debug("skipping non-transfer log", "txHash", l.TxHash.String(), "logIndex", l.Index)
		return
	}

	token, ok := m.tokenByAddress(l.Address)
	if !ok {
		m.logger.Debug("skipping transfer of unconfigured token", "token", l.Address.String())
		return
	}

	amount := new(big.Int).SetBytes(l.Data)
	ev := TransferEvent{
		ChainID:      m.blockchain.ID,
		TxRef:        l.TxHash.Hex(),
		LogIndex:     uint32(l.Index),
		Sender:       common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		Recipient:    m.receivingAddr.Hex(),
		TokenAddress: token.Token.Address,
		RawAmount:    decimal.NewFromBigInt(amount, 0),
		AtBlock:      l.BlockNumber,
	}

	if err := m.matcher.HandleTransfer(ev); err != nil {
		m.logger.Error("failed to process token transfer", "error", err, "txRef", ev.TxRef, "logIndex", ev.LogIndex)
	}
}

// handleNewBlock scans a block's transactions for native transfers to the
// receiving address.
func (m *EVMMonitor) handleNewBlock(ctx context.Context, number *big.Int) {
	var block *types.Block
	var err error
	blockCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	err = debounce.Debounce(blockCtx, ethLogger, func(ctx context.Context) error {
		block, err = m.client.BlockByNumber(ctx, number)
		return err
	})
	cancel()
	if err != nil {
		m.logger.Warn("failed to fetch block body", "error", err, "blockNumber", number)
		return
	}

	for _, tx := range block.Transactions() {
		if tx.To() == nil || *tx.To() != m.receivingAddr || tx.Value().Sign() == 0 {
			continue
		}

		sender, err := types.Sender(m.txSigner, tx)
		if err != nil {
			m.logger.Warn("failed to recover transfer sender, skipping", "error", err, "txHash", tx.Hash().String())
			continue
		}

		ev := TransferEvent{
			ChainID:      m.blockchain.ID,
			TxRef:        tx.Hash().Hex(),
			LogIndex:     0,
			Sender:       sender.Hex(),
			Recipient:    m.receivingAddr.Hex(),
			TokenAddress: "",
			RawAmount:    decimal.NewFromBigInt(tx.Value(), 0),
			AtBlock:      block.NumberU64(),
		}

		if err := m.matcher.HandleTransfer(ev); err != nil {
			m.logger.Error("failed to process native transfer", "error", err, "txRef", ev.TxRef)
		}
	}
}

// reconcileBlockRange refetches token transfer logs from the last known block
// up to the current head in blockStep-sized windows, feeding them through the
// same handler path. Redelivered logs are dropped by deduplication.
func (m *EVMMonitor) reconcileBlockRange(currentBlock, lastBlock uint64, historicalCh chan types.Log) {
	var backOffCount atomic.Uint64
	blockStep := m.blockchain.BlockStep
	startBlock := lastBlock
	endBlock := startBlock + blockStep

	for currentBlock > startBlock {
		waitForBackOffTimeout(m.logger, int(backOffCount.Load()), "reconcile block range")

		if endBlock > currentBlock {
			endBlock = currentBlock
		}

		fetchFQ := ethereum.FilterQuery{
			Addresses: m.tokenAddresses,
			FromBlock: new(big.Int).SetUint64(startBlock),
			ToBlock:   new(big.Int).SetUint64(endBlock),
			Topics: [][]common.Hash{
				{transferEventTopic},
				nil,
				{recipientTopic(m.receivingAddr)},
			},
		}

		var logs []types.Log
		var err error
		logsCtx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		err = debounce.Debounce(logsCtx, ethLogger, func(ctx context.Context) error {
			logs, err = m.client.FilterLogs(ctx, fetchFQ)
			return err
		})
		cancel()
		if err != nil {
			newStartBlock, newEndBlock, extractErr := extractAdvisedBlockRange(err.Error())
			if extractErr != nil {
				m.logger.Error("failed to filter logs", "error", err, "startBlock", startBlock, "endBlock", endBlock)
				backOffCount.Add(1)
				continue
			}
			startBlock, endBlock = newStartBlock, newEndBlock
			m.logger.Info("retrying with advised block range", "startBlock", startBlock, "endBlock", endBlock)
			continue // retry with the advised block range
		}
		m.logger.Info("fetched historical logs", "count", len(logs), "startBlock", startBlock, "endBlock", endBlock)

		for _, ethLog := range logs {
			historicalCh <- ethLog
		}

		startBlock = endBlock + 1
		endBlock += blockStep
	}
}

func (m *EVMMonitor) tokenByAddress(address common.Address) (AssetTokenConfig, bool) {
	for _, token := range m.tokens {
		if strings.EqualFold(token.Token.Address, address.Hex()) {
			return token, true
		}
	}
	return AssetTokenConfig{}, false
}

func (m *EVMMonitor) loadCursor() uint64 {
	cursor, err := GetMonitorCursor(m.db, m.blockchain.ID)
	if err != nil {
		m.logger.Warn("failed to load monitor cursor", "error", err)
		return m.cursorFromTransfers()
	}
	if cursor == "" {
		return m.cursorFromTransfers()
	}
	block, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		m.logger.Warn("malformed monitor cursor", "cursor", cursor)
		return m.cursorFromTransfers()
	}
	return block
}

// cursorFromTransfers recovers a starting block from the newest recorded
// transfer when no usable cursor row exists, so a lost cursor does not force
// a rescan from genesis.
func (m *EVMMonitor) cursorFromTransfers() uint64 {
	latest, err := GetLatestObservedTransfer(m.db, m.blockchain.ID)
	if err != nil {
		m.logger.Warn("failed to load latest observed transfer", "error", err)
		return 0
	}
	if latest == nil {
		return 0
	}
	m.logger.Info("recovered cursor from observed transfers", "block", latest.AtBlock)
	return latest.AtBlock
}

func (m *EVMMonitor) saveCursor(block uint64) {
	if err := SaveMonitorCursor(m.db, m.blockchain.ID, strconv.FormatUint(block, 10)); err != nil {
		m.logger.Warn("failed to save monitor cursor", "error", err, "block", block)
	}
}

// recipientTopic left-pads an address into the 32-byte topic form used for
// indexed event parameters.
func recipientTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

// extractAdvisedBlockRange extracts the advised block range from an error message
// when the error indicates too many query results.
// Assumed error format:
// "query returned more than 10000 results. Try with this block range [0x953260, 0x954ED4]."
func extractAdvisedBlockRange(msg string) (startBlock, endBlock uint64, err error) {
	if !strings.Contains(msg, "query returned more than 10000 results") {
		err = errors.New("error message doesn't contain advised block range")
		return
	}

	re := regexp.MustCompile(`\[0x([0-9a-fA-F]+), 0x([0-9a-fA-F]+)\]`)
	match := re.FindStringSubmatch(msg)
	if len(match) != 3 { // Match contains the whole match and two capture groups
		err = errors.New("failed to extract block range from error message")
		return
	}

	startBlock, err = strconv.ParseUint(match[1], 16, 64)
	if err != nil {
		err = errors.Wrap(err, "failed to parse block range from error message")
		return
	}
	endBlock, err = strconv.ParseUint(match[2], 16, 64)
	if err != nil {
		err = errors.Wrap(err, "failed to parse block range from error message")
		return
	}
	return
}

// waitForBackOffTimeout implements exponential backoff between retries
func waitForBackOffTimeout(logger Logger, backOffCount int, originator string) {
	if backOffCount > maxBackOffCount {
		logger.Fatal("back off limit reached, exiting", "originator", originator, "backOffCollisionCount", backOffCount)
		return
	}

	if backOffCount > 0 {
		logger.Info("backing off", "originator", originator, "backOffCollisionCount", backOffCount)
		time.Sleep(time.Duration(1<<backOffCount) * time.Second)
	}
}

package node

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/odla-network/settlement"
	"github.com/odla-network/settlement/ledger"
)

type accountService struct {
	l *Ledger
}

// GetNextSequenceNumber serves account_getNextSequenceNumber
func (s *accountService) GetNextSequenceNumber(address string) (settlement.NextNonce, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return settlement.NextNonce{}, err
	}
	return s.l.NextNonce(addr), nil
}

// GetBalance serves account_getBalance
func (s *accountService) GetBalance(address string) (hexutil.Uint64, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint64(s.l.Balance(addr)), nil
}

type txService struct {
	l *Ledger
}

// SendBlockItem serves tx_sendBlockItem
func (s *txService) SendBlockItem(item hexutil.Bytes) (string, error) {
	return s.l.Submit(item)
}

// GetBlockItemStatus serves tx_getBlockItemStatus
func (s *txService) GetBlockItemStatus(hash string) (settlement.BlockItemStatus, error) {
	return s.l.Status(hash)
}

type nodeService struct {
	l *Ledger
}

// GetConsensusInfo serves node_getConsensusInfo
func (s *nodeService) GetConsensusInfo() settlement.ConsensusInfo {
	return s.l.ConsensusInfo()
}

func parseAddress(address string) (settlement.AccountAddress, error) {
	addr, err := settlement.ParseAddress(address)
	if err != nil {
		return addr, ledger.Errorf(-32602, "invalid account address %q", address)
	}
	return addr, nil
}

package recipient

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event type names as they appear in the chain event log.
const (
	EventAdded   = "RecipientAdded"
	EventRemoved = "RecipientRemoved"
)

// AddedEvent is a decoded RecipientAdded log together with the transaction
// that emitted it.
type AddedEvent struct {
	Registry    common.Address `json:"registry"`
	RecipientID common.Hash    `json:"recipientId"`
	Recipient   common.Address `json:"recipient"`
	Metadata    string         `json:"metadata"`
	Index       *big.Int       `json:"index"`
	Timestamp   *big.Int       `json:"timestamp"`
	Sender      common.Address `json:"sender"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	LogIndex    uint           `json:"logIndex"`
}

// RemovedEvent is a decoded RecipientRemoved log.
type RemovedEvent struct {
	Registry    common.Address `json:"registry"`
	RecipientID common.Hash    `json:"recipientId"`
	Timestamp   *big.Int       `json:"timestamp"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	LogIndex    uint           `json:"logIndex"`
}

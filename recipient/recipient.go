package recipient

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidEvent    = errors.New("recipient: invalid event")
	ErrInvalidMetadata = errors.New("recipient: invalid metadata")
	ErrInvalidID       = errors.New("recipient: invalid id")
)

// Recipient is the reconciled state of one registered recipient. Addresses
// used as keys are lowercase; the payout address keeps its checksum casing.
type Recipient struct {
	ID           string    `grantbook:"id" json:"id"`
	RegistryID   string    `grantbook:"index" json:"registryId"`
	Requester    string    `json:"requester"`
	Metadata     string    `json:"metadata"`
	Index        uint64    `json:"index"`
	Address      string    `json:"address"`
	SubmittedAt  uint64    `json:"submittedAt"`
	ResolvedHash string    `json:"requestResolvedHash"`
	CreatedAt    time.Time `json:"createdAt"`
	Removed      bool      `json:"removed"`
	RemovedAt    uint64    `json:"removedAt,omitempty"`
	IsHidden     bool      `json:"isHidden"`
	IsLocked     bool      `json:"isLocked"`
	Version      int       `grantbook:"version" json:"-"`
}

// Decode maps an added event to a Recipient. CreatedAt is left zero for the
// caller to stamp. The metadata blob is copied verbatim.
func Decode(evt AddedEvent) (Recipient, error) {
	if evt.RecipientID == (common.Hash{}) {
		return Recipient{}, fmt.Errorf("%w: missing recipient id", ErrInvalidEvent)
	}
	index, err := toUint64("index", evt.Index)
	if err != nil {
		return Recipient{}, err
	}
	submittedAt, err := toUint64("timestamp", evt.Timestamp)
	if err != nil {
		return Recipient{}, err
	}

	return Recipient{
		ID:           FormatID(evt.RecipientID),
		RegistryID:   FormatAddress(evt.Registry),
		Requester:    FormatAddress(evt.Sender),
		Metadata:     evt.Metadata,
		Index:        index,
		Address:      evt.Recipient.Hex(),
		SubmittedAt:  submittedAt,
		ResolvedHash: evt.TxHash.Hex(),
	}, nil
}

// DecodeRemoval extracts the id and chain timestamp of a removal.
func DecodeRemoval(evt RemovedEvent) (Removal, error) {
	if evt.RecipientID == (common.Hash{}) {
		return Removal{}, fmt.Errorf("%w: missing recipient id", ErrInvalidEvent)
	}
	at, err := toUint64("timestamp", evt.Timestamp)
	if err != nil {
		return Removal{}, err
	}
	return Removal{RecipientID: FormatID(evt.RecipientID), At: at}, nil
}

// FormatAddress renders an address the way records are keyed by it.
func FormatAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func toUint64(field string, v *big.Int) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidEvent, field)
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s %s out of range", ErrInvalidEvent, field, v)
	}
	return v.Uint64(), nil
}

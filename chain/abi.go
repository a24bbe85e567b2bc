// Package chain talks to recipient registry contracts through an Ethereum
// JSON-RPC node: it reads and decodes registry logs, tails them into the
// chain event log, and submits registrations.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RegistryABI covers the parts of the simple recipient registry used here.
const RegistryABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"bytes32","name":"_recipientId","type":"bytes32"},
		{"indexed":false,"internalType":"address","name":"_recipient","type":"address"},
		{"indexed":false,"internalType":"string","name":"_metadata","type":"string"},
		{"indexed":false,"internalType":"uint256","name":"_index","type":"uint256"},
		{"indexed":false,"internalType":"uint256","name":"_timestamp","type":"uint256"}
	],"name":"RecipientAdded","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"bytes32","name":"_recipientId","type":"bytes32"},
		{"indexed":false,"internalType":"uint256","name":"_timestamp","type":"uint256"}
	],"name":"RecipientRemoved","type":"event"},
	{"inputs":[
		{"internalType":"address","name":"_recipient","type":"address"},
		{"internalType":"string","name":"_metadata","type":"string"}
	],"name":"addRecipient","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[
		{"internalType":"bytes32","name":"_recipientId","type":"bytes32"}
	],"name":"removeRecipient","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var registryABI = mustParseABI(RegistryABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("chain: parse registry abi: %v", err))
	}
	return parsed
}

var (
	addedEventID   = registryABI.Events["RecipientAdded"].ID
	removedEventID = registryABI.Events["RecipientRemoved"].ID
)

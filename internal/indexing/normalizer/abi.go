package normalizer

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
)

// PacketABI holds the events emitted by the packet contract.
const PacketABI = `[
	{"type":"event","name":"PacketCreated","anonymous":false,"inputs":[
		{"name":"packetId","type":"bytes32","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"totalAmount","type":"uint256","indexed":false},
		{"name":"count","type":"uint32","indexed":false},
		{"name":"isRandom","type":"bool","indexed":false},
		{"name":"expireTime","type":"uint64","indexed":false}]},
	{"type":"event","name":"PacketClaimed","anonymous":false,"inputs":[
		{"name":"packetId","type":"bytes32","indexed":true},
		{"name":"claimer","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"remainingCount","type":"uint32","indexed":false}]},
	{"type":"event","name":"VrfRequested","anonymous":false,"inputs":[
		{"name":"packetId","type":"bytes32","indexed":true},
		{"name":"requestId","type":"uint256","indexed":false}]},
	{"type":"event","name":"RandomReady","anonymous":false,"inputs":[
		{"name":"packetId","type":"bytes32","indexed":true}]},
	{"type":"event","name":"PacketRefunded","anonymous":false,"inputs":[
		{"name":"packetId","type":"bytes32","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

var eventNames = map[domain.EventKind]string{
	domain.EventKindCreated:      "PacketCreated",
	domain.EventKindClaimed:      "PacketClaimed",
	domain.EventKindVrfRequested: "VrfRequested",
	domain.EventKindRandomReady:  "RandomReady",
	domain.EventKindRefunded:     "PacketRefunded",
}

// number of topics (signature + indexed args) per kind
var topicCount = map[domain.EventKind]int{
	domain.EventKindCreated:      4,
	domain.EventKindClaimed:      3,
	domain.EventKindVrfRequested: 2,
	domain.EventKindRandomReady:  2,
	domain.EventKindRefunded:     3,
}

var packetABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(PacketABI))
	if err != nil {
		panic("packet abi: " + err.Error())
	}
	return parsed
}

// Topics returns the topic0 signature hash of every event kind.
func Topics() map[domain.EventKind]common.Hash {
	out := make(map[domain.EventKind]common.Hash, len(eventNames))
	for kind, name := range eventNames {
		out[kind] = packetABI.Events[name].ID
	}
	return out
}

// Topic returns the topic0 signature hash of one event kind.
func Topic(kind domain.EventKind) common.Hash {
	return packetABI.Events[eventNames[kind]].ID
}

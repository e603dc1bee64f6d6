package store

import "github.com/ethereum/go-ethereum/common"

// The fields below define the low level database schema prefixing.
var (
	// packetPrefix + packetID -> RLP(PacketState)
	packetPrefix = []byte("p")

	// cursorKey tracks the next source block to scan for PacketSent logs.
	cursorKey = []byte("ListenerCursor")
)

func packetKey(id common.Hash) []byte {
	return append(append(make([]byte, 0, len(packetPrefix)+common.HashLength), packetPrefix...), id.Bytes()...)
}

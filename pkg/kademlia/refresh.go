package kademlia

import (
	"crypto/rand"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// RandomIDInBucket returns a pseudo-random NodeID whose XOR distance
// from localID has exactly bucketIndex leading zero bits, for use as a
// refresh-lookup target on a stale distance class.
func RandomIDInBucket(localID identity.NodeID, bucketIndex int) identity.NodeID {
	var distance [identity.NodeIDSize]byte
	rand.Read(distance[:])

	if bucketIndex >= identity.NodeIDSize*8 {
		distance = [identity.NodeIDSize]byte{}
	} else {
		zeroBytes := bucketIndex / 8
		for i := 0; i < zeroBytes; i++ {
			distance[i] = 0
		}
		bitInByte := bucketIndex % 8
		mask := byte(0xff) >> uint(bitInByte)
		distance[zeroBytes] &= mask
		distance[zeroBytes] |= 1 << uint(7-bitInByte)
	}

	var id identity.NodeID
	for i := range id {
		id[i] = localID[i] ^ distance[i]
	}
	return id
}

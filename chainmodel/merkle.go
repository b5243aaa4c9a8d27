package chainmodel

import "github.com/emberchain/emberd/chainkey"

// oddNodeSentinel is the distinguished value paired with a level's last
// node when that level has an odd count, instead of duplicating the
// node (spec.md §3: avoids the CVE-2012-2459 merkle malleability).
var oddNodeSentinel = chainkey.HashBytes([]byte("emberchain/merkle-odd-node-sentinel"))

// ComputeMerkleRoot builds the balanced binary merkle tree over txHashes
// and returns its root. An empty list yields the all-zero root.
func ComputeMerkleRoot(txHashes []chainkey.Hash) chainkey.Hash {
	if len(txHashes) == 0 {
		return chainkey.Hash{}
	}

	level := make([]chainkey.Hash, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		next := make([]chainkey.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			var right chainkey.Hash
			if i+1 < len(level) {
				right = level[i+1]
			} else {
				right = oddNodeSentinel
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right chainkey.Hash) chainkey.Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return chainkey.HashBytes(buf)
}

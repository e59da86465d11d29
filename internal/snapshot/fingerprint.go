package snapshot

import "hash/fnv"

// Fingerprint digests normalized content so change detection is one
// integer compare per poll.
func Fingerprint(content string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(content))
	return h.Sum64()
}

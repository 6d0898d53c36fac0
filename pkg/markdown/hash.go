package markdown

import (
	"github.com/minio/highwayhash"
)

var hashKey = []byte("corpus-article-hash-key-00000000")

// ContentHash fingerprints an article body for change detection.
func ContentHash(data []byte) (uint64, error) {
	h, err := highwayhash.New64(hashKey)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(data); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

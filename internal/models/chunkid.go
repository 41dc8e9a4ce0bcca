package models

import (
	"crypto/md5"
	"encoding/hex"
)

// ChunkPointID derives the deterministic vector-store id for a chunk from its
// ownership and content: md5(collectionID ":" ownerID ":" data+vectorSource)
// rendered as a UUID. The same content under the same ownership always maps
// to the same point, which makes ingestion idempotent.
func ChunkPointID(collectionID, ownerID, data, vectorSource string) string {
	sum := md5.Sum([]byte(collectionID + ":" + ownerID + ":" + data + vectorSource))
	return formatUUID(sum[:])
}

// FeedbackDocID derives the content-addressed id for a feedback doc from the
// (collection, owner, query) triple.
func FeedbackDocID(collectionID, ownerID, query string) string {
	sum := md5.Sum([]byte(collectionID + ":" + ownerID + ":" + query))
	return formatUUID(sum[:])
}

// formatUUID renders 16 bytes in the canonical 8-4-4-4-12 form.
func formatUUID(b []byte) string {
	h := hex.EncodeToString(b)
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

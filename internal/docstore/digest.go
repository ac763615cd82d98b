package docstore

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Digest computes the content-derived fingerprint for a document: a sha256
// hash over the content concatenated with the canonically serialized
// metadata. Two payloads with identical content and metadata always produce
// the same digest, so it serves as the change-detection key for idempotent
// re-ingestion. It is NOT the storage identity — ids are store-assigned.
//
// The digest itself is excluded from the serialization so that stamping it
// into metadata does not change the value on re-computation.
func Digest(content string, metadata map[string]string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte(canonicalMetadata(metadata)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// StampDigest returns a copy of metadata with the digest of (content,
// metadata) injected under MetaDigest. The input map is never mutated.
func StampDigest(content string, metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[MetaDigest] = Digest(content, metadata)
	return out
}

// canonicalMetadata serializes metadata deterministically: keys sorted,
// key=value pairs joined with newlines, MetaDigest excluded.
func canonicalMetadata(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if k == MetaDigest {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(metadata[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}

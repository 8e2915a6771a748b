// canonical.go implements the canonical serialization used to compute event hashes.
// The encoding must be injective: no two distinct field sets may serialize to the same
// byte string, otherwise an attacker could swap field contents without changing the hash.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainlog/chainlog/internal/db/models"
)

// GenesisHash is the prev_hash of the very first record in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalVersion is embedded in every encoding so the scheme can evolve
// without old hashes becoming unverifiable: a future v2 encoder would leave
// v1 records verifiable by an encoder selected on this tag.
const canonicalVersion = "clg1"

// canonicalEncoder builds the byte string that gets hashed. Each field is
// written as a one-byte type tag followed by a length-prefixed payload, so
// "null" and "" are distinct and no field can bleed into its neighbour.
type canonicalEncoder struct {
	buf []byte
}

func (e *canonicalEncoder) writeBytes(tag byte, b []byte) {
	e.buf = append(e.buf, tag)
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], uint64(len(b)))
	e.buf = append(e.buf, l[:n]...)
	e.buf = append(e.buf, b...)
}

func (e *canonicalEncoder) writeString(s string) {
	e.writeBytes('s', []byte(s))
}

// writeOptString distinguishes a nil pointer ('n' tag, no payload) from a
// present-but-empty string ('s' tag, zero length).
func (e *canonicalEncoder) writeOptString(s *string) {
	if s == nil {
		e.buf = append(e.buf, 'n')
		return
	}
	e.writeString(*s)
}

func (e *canonicalEncoder) writeInt(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.writeBytes('i', b[:])
}

// CanonicalEncode serializes the hash-covered fields of an event, excluding
// Hash itself. The created_at timestamp is encoded as UTC microseconds; the
// recorder truncates timestamps to microsecond precision before hashing so the
// round trip through PostgreSQL's timestamptz (microsecond resolution) does
// not alter the recomputed hash.
func CanonicalEncode(ev *models.AuditEvent) ([]byte, error) {
	enc := &canonicalEncoder{buf: make([]byte, 0, 256)}
	enc.writeString(canonicalVersion)
	enc.writeInt(ev.ID)
	enc.writeOptString(ev.TenantID)
	enc.writeOptString(ev.ActorUserID)
	enc.writeOptString(ev.ActorEmail)
	enc.writeString(ev.Action)
	enc.writeOptString(ev.EntityType)
	enc.writeOptString(ev.EntityID)
	enc.writeOptString(ev.IPAddress)

	if ev.Details == nil {
		enc.buf = append(enc.buf, 'n')
	} else {
		// encoding/json marshals map keys in sorted order, so the bytes are
		// deterministic as long as the map holds the normalized representation
		// (NormalizeDetails at append time, DecodeDetails on read).
		detailsJSON, err := json.Marshal(ev.Details)
		if err != nil {
			return nil, fmt.Errorf("canonical encode details: %w", err)
		}
		enc.writeBytes('j', detailsJSON)
	}

	enc.writeInt(ev.CreatedAt.UTC().UnixMicro())
	return enc.buf, nil
}

// ComputeHash returns the hex SHA-256 digest of the canonical encoding of ev
// concatenated with prevHash. prevHash must be the running predecessor hash,
// not the (potentially tampered) stored prev_hash field.
func ComputeHash(ev *models.AuditEvent, prevHash string) (string, error) {
	canonical, err := CanonicalEncode(ev)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TruncateTimestamp normalizes a timestamp to the precision that survives a
// round trip through the database. Hashing a nanosecond value and storing a
// microsecond value would make every record fail verification.
func TruncateTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NormalizeDetails round-trips a details payload through JSON so the value
// that gets hashed is exactly what verification recomputes after the database
// round trip. Without it, an int64 above 2^53 or a struct value whose JSON
// field order is not alphabetical would re-marshal differently once the stored
// JSONB is decoded back into a map, producing a false hash_mismatch on a
// record nobody touched.
func NormalizeDetails(details map[string]interface{}) (map[string]interface{}, error) {
	if details == nil {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("normalize details: %w", err)
	}
	normalized, err := DecodeDetails(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize details: %w", err)
	}
	return normalized, nil
}

// DecodeDetails decodes a stored JSONB payload into the canonical in-memory
// form: UseNumber keeps numbers as their exact literals (json.Number) instead
// of lossy float64s, so re-encoding yields the same bytes that were hashed.
func DecodeDetails(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var details map[string]interface{}
	if err := dec.Decode(&details); err != nil {
		return nil, err
	}
	return details, nil
}

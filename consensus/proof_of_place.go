package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// PlaceProof binds a location and a timestamp into a verifiable digest.
//
// The digest is an unkeyed hash: anyone who knows the location and timestamp
// can reproduce it. A hardened deployment must key it with a representative's
// signing key.
type PlaceProof struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPlaceProof captures a location at the given time.
func NewPlaceProof(lat, lng float64, ts time.Time) PlaceProof {
	return PlaceProof{Latitude: lat, Longitude: lng, Timestamp: ts.UTC()}
}

// Generate produces the proof digest.
func (p PlaceProof) Generate() string {
	return placeDigest(p.Latitude, p.Longitude, p.Timestamp)
}

// VerifyPlaceProof recomputes the digest for the claimed location and
// timestamp and compares for exact equality.
func VerifyPlaceProof(proof string, lat, lng float64, ts time.Time) bool {
	return placeDigest(lat, lng, ts) == proof
}

func placeDigest(lat, lng float64, ts time.Time) string {
	canonical := fmt.Sprintf("(%v,%v)%s", lat, lng, ts.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

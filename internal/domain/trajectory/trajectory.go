// Package trajectory holds encrypted trajectory points and decrypted visit events.
package trajectory

import "github.com/kailas-cloud/stquery/internal/crypto"

// Point is one stored trajectory sample. Every field is a ciphertext.
type Point struct {
	TrajID    crypto.EncryptedValue `json:"traj_id"`
	Date      crypto.EncryptedValue `json:"date"`
	Latitude  crypto.EncryptedValue `json:"latitude"`
	Longitude crypto.EncryptedValue `json:"longitude"`
	Time      crypto.EncryptedValue `json:"time"`
}

// Visit is a decrypted (trajectory, region, timestamp) event consumed by STV.
// Timestamp is the decrypted point date in Unix seconds.
type Visit struct {
	TrajectoryID string
	RegionID     int
	Timestamp    int64
}

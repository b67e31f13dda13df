package signature

const (
	VersionOracleV1 = "oracle-sig-v1"
	AlgorithmTink   = "tink-ed25519"
)

// Envelope carries an oracle signature over the canonical hash of a payload.
type Envelope struct {
	Version     string `json:"version"`
	Algorithm   string `json:"algorithm"`
	Signature   string `json:"signature"`
	PayloadHash string `json:"payload_hash"`
	IssuedAt    string `json:"issued_at"`
	KeyID       uint32 `json:"key_id,omitempty"`
}

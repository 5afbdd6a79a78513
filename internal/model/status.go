package model

// Certificate status constants.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Anchor outbox status constants.
const (
	AnchorStatusPending  = "pending"
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
	// AnchorStatusRejected marks a proof the ledger refused. The drain never
	// picks it up again.
	AnchorStatusRejected = "rejected"
)

// AnchorStatusDrainable reports whether an outbox row in status s still
// needs to reach the ledger.
func AnchorStatusDrainable(s string) bool {
	return s == AnchorStatusPending || s == AnchorStatusFailed
}

// ValidCertificateStatus reports whether s is a known certificate status.
func ValidCertificateStatus(s string) bool {
	return s == StatusActive || s == StatusRevoked
}

package models

// CredentialKind tags the variant of an authentication input. Resolution
// precedence is an explicit ordered list in the identity service, not implicit
// code order.
type CredentialKind int

const (
	// CredentialRecovery is a successfully redeemed recovery code. It always
	// wins, even over a fresher anonymous session, because losing the
	// recovered identity would silently fork the user's data.
	CredentialRecovery CredentialKind = iota

	// CredentialPhone is a verified phone number. Once established it
	// supersedes fingerprint-derived identities.
	CredentialPhone

	// CredentialFingerprint is derived deterministically from stable
	// hardware attributes, so a reinstall on the same physical device
	// reproduces the same identity without phone verification.
	CredentialFingerprint
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialRecovery:
		return "recovery"
	case CredentialPhone:
		return "phone"
	case CredentialFingerprint:
		return "fingerprint"
	default:
		return "unknown"
	}
}

// Credential is a tagged-variant authentication input. Exactly one payload
// field is meaningful for a given Kind.
type Credential struct {
	Kind CredentialKind

	// RecoveryUserID is the identity previously established by redeeming a
	// recovery code (Kind == CredentialRecovery).
	RecoveryUserID string

	// Phone is the verified phone number (Kind == CredentialPhone).
	Phone string

	// Fingerprint is the hashed device fingerprint (Kind == CredentialFingerprint).
	Fingerprint string

	// ClaimedUserID is the identity the caller believes it operates as. When
	// it disagrees with the credential-derived subject, the credential wins;
	// the mismatch is logged and never surfaced.
	ClaimedUserID string
}

// RecoveryCredential builds a credential for an already-validated recovery code.
func RecoveryCredential(userID string) Credential {
	return Credential{Kind: CredentialRecovery, RecoveryUserID: userID}
}

// PhoneCredential builds a credential for a verified phone number.
func PhoneCredential(phone string) Credential {
	return Credential{Kind: CredentialPhone, Phone: NormalizePhone(phone)}
}

// FingerprintCredential builds a credential for a device fingerprint hash.
func FingerprintCredential(fingerprint string) Credential {
	return Credential{Kind: CredentialFingerprint, Fingerprint: fingerprint}
}

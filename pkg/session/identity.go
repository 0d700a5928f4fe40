package session

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ValidateIdentityFormat checks that an opaque participant identity string
// (spec.md §1: "an already-validated participant identity") at least takes
// the shape of a hex-encoded secp256k1 public key, as the teacher's
// bisonrelay-derived identities do. Full signature/ticket verification is
// the external auth collaborator's job (spec.md §1); this is only a
// cheap, local shape check so a malformed identity never reaches the
// serializer as a seat key.
func ValidateIdentityFormat(identity string) error {
	raw, err := hex.DecodeString(identity)
	if err != nil {
		return fmt.Errorf("%w: identity is not hex-encoded: %v", errBadIdentity, err)
	}
	if _, err := secp256k1.ParsePubKey(raw); err != nil {
		return fmt.Errorf("%w: identity is not a valid public key: %v", errBadIdentity, err)
	}
	return nil
}

var errBadIdentity = errors.New("session: malformed identity")

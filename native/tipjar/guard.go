package tipjar

import (
	"errors"
	"unicode/utf8"

	"tipjar/core/identity"
	"tipjar/core/state"
	"tipjar/core/types"
)

// RecoverSigner returns the wallet address that signed ins.
func RecoverSigner(ins *types.Instruction) ([20]byte, error) {
	if ins == nil {
		return [20]byte{}, newError(CodeInvalidInstruction, "nil instruction")
	}
	signer, err := ins.From()
	if err != nil {
		return [20]byte{}, newError(CodeInvalidSignature, "%v", err)
	}
	return signer, nil
}

func checkNonce(acc types.Account, nonce uint64) error {
	if acc.Nonce != nonce {
		return newError(CodeInvalidNonce, "got %d, wallet expects %d", nonce, acc.Nonce)
	}
	return nil
}

func requireOwner(profile *Profile, signer [20]byte) error {
	if profile.Owner != signer {
		return newError(CodeUnauthorized, "signer %s is not the profile owner", addrString(signer))
	}
	return nil
}

// checkRecordIdentity compares the identity a client claims for a new record
// with the one derived from current state. A claim naming an existing record
// is a duplicate submission; any other difference means the client derived
// from a stale counter.
func checkRecordIdentity(tx *state.Txn, claimed *identity.Identity, fresh identity.Identity) error {
	if claimed == nil {
		return nil
	}
	exists, err := tx.Exists(*claimed)
	if err != nil {
		return err
	}
	if exists {
		return newError(CodeAlreadyExists, "record %s", claimed)
	}
	if *claimed != fresh {
		return newError(CodeIdentityMismatch, "claimed %s, derived %s", claimed, fresh)
	}
	return nil
}

func checkProfileIdentity(claimed *identity.Identity, fresh identity.Identity) error {
	if claimed != nil && *claimed != fresh {
		return newError(CodeIdentityMismatch, "profile %s does not derive from owner, expected %s", claimed, fresh)
	}
	return nil
}

func validateName(name string) error {
	if len(name) > MaxNameLen {
		return newError(CodeNameTooLong, "%d bytes", len(name))
	}
	if name == "" {
		return ErrNameEmpty
	}
	if !utf8.ValidString(name) {
		return newError(CodeInvalidInstruction, "name is not valid UTF-8")
	}
	return nil
}

func validateBio(bio string) error {
	if len(bio) > MaxBioLen {
		return newError(CodeBioTooLong, "%d bytes", len(bio))
	}
	if !utf8.ValidString(bio) {
		return newError(CodeInvalidInstruction, "bio is not valid UTF-8")
	}
	return nil
}

func validateMessage(message string) error {
	if len(message) > MaxMessageLen {
		return newError(CodeMessageTooLong, "%d bytes", len(message))
	}
	if !utf8.ValidString(message) {
		return newError(CodeInvalidInstruction, "message is not valid UTF-8")
	}
	return nil
}

func createRecord(tx *state.Txn, id identity.Identity, data []byte) error {
	if err := tx.CreateRecord(id, data); err != nil {
		if errors.Is(err, state.ErrRecordExists) {
			return newError(CodeAlreadyExists, "record %s", id)
		}
		return err
	}
	return nil
}

package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"tipjar/core/identity"
)

// InstructionKind names the ledger operation an instruction requests.
type InstructionKind byte

const (
	InstructionCreateProfile InstructionKind = 0x01 // Register a creator profile
	InstructionSendTip       InstructionKind = 0x02 // Tip an existing profile
	InstructionUpdateProfile InstructionKind = 0x03 // Owner edits name and bio
	InstructionWithdrawTips  InstructionKind = 0x04 // Owner withdraws escrowed tips
)

var instructionKindNames = map[InstructionKind]string{
	InstructionCreateProfile: "createCreatorProfile",
	InstructionSendTip:       "sendTip",
	InstructionUpdateProfile: "updateProfile",
	InstructionWithdrawTips:  "withdrawTips",
}

// String returns the wire name of the instruction kind.
func (k InstructionKind) String() string {
	if name, ok := instructionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(k))
}

// Valid reports whether k is a known instruction kind.
func (k InstructionKind) Valid() bool {
	_, ok := instructionKindNames[k]
	return ok
}

// ParseInstructionKind resolves a wire name such as "sendTip".
func ParseInstructionKind(name string) (InstructionKind, error) {
	trimmed := strings.TrimSpace(name)
	for kind, candidate := range instructionKindNames {
		if strings.EqualFold(candidate, trimmed) {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("types: unknown instruction kind %q", name)
}

// MarshalText renders the kind by name.
func (k InstructionKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("types: unknown instruction kind 0x%02x", byte(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts the wire name of a kind.
func (k *InstructionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseInstructionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

var errUnsigned = errors.New("types: instruction is not signed")

// Instruction is a signed request to apply one ledger operation. Profile names
// the target profile identity; Record optionally names the record identity the
// client expects the operation to create.
type Instruction struct {
	Kind    InstructionKind    `json:"kind"`
	Nonce   uint64             `json:"nonce"`
	Profile *identity.Identity `json:"profile,omitempty"`
	Record  *identity.Identity `json:"record,omitempty"`
	Amount  uint64             `json:"amount,omitempty"`
	Name    string             `json:"name,omitempty"`
	Bio     string             `json:"bio,omitempty"`
	Message string             `json:"message,omitempty"`

	// Signer's secp256k1 signature over Hash.
	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	from []byte
}

// Hash covers every field except the signature.
func (ins *Instruction) Hash() ([]byte, error) {
	payload := struct {
		Kind    InstructionKind
		Nonce   uint64
		Profile *identity.Identity
		Record  *identity.Identity
		Amount  uint64
		Name    string
		Bio     string
		Message string
	}{ins.Kind, ins.Nonce, ins.Profile, ins.Record, ins.Amount, ins.Name, ins.Bio, ins.Message}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Sign attaches a signature produced by privKey.
func (ins *Instruction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := ins.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	ins.R = new(big.Int).SetBytes(sig[:32])
	ins.S = new(big.Int).SetBytes(sig[32:64])
	ins.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	ins.from = nil
	return nil
}

// From recovers the 20-byte address that signed the instruction.
func (ins *Instruction) From() ([20]byte, error) {
	var out [20]byte
	if ins.from != nil {
		copy(out[:], ins.from)
		return out, nil
	}
	if ins.R == nil || ins.S == nil || ins.V == nil {
		return out, errUnsigned
	}
	rBytes, sBytes := ins.R.Bytes(), ins.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 || !ins.V.IsUint64() || ins.V.Uint64() < 27 || ins.V.Uint64() > 28 {
		return out, fmt.Errorf("types: malformed signature")
	}
	hash, err := ins.Hash()
	if err != nil {
		return out, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(ins.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return out, err
	}
	ins.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	copy(out[:], ins.from)
	return out, nil
}

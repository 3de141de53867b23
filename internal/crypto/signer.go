package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature is malformed or recovers to a
// different address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer produces EIP-191 personal_sign signatures. The keeper uses it to
// sign its API requests as the operator account.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the account derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs msg with the EIP-191 "\x19Ethereum Signed Message:\n"
// prefix and returns a 0x-prefixed 65-byte signature with v in {27,28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignRequest signs the canonical form of an API request.
func (s *Signer) SignRequest(method, path, requestID string, at time.Time, body []byte) (string, error) {
	return s.SignMessage(RequestMessage(method, path, requestID, at, body))
}

// RequestMessage is the text a client signs for an API request: method,
// path, request ID, unix timestamp and the keccak256 of the body, one per
// line. The request ID may be empty.
func RequestMessage(method, path, requestID string, at time.Time, body []byte) []byte {
	var b strings.Builder
	b.WriteString("castbet\n")
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(requestID)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(at.Unix(), 10))
	b.WriteByte('\n')
	b.WriteString(ethcrypto.Keccak256Hash(body).Hex())
	return []byte(b.String())
}

// MessageKey is the idempotency key of a signed request: the keccak256 of
// its canonical message. Every copy of one signed request shares it.
func MessageKey(msg []byte) string {
	return "signed:" + ethcrypto.Keccak256Hash(msg).Hex()
}

// RecoverAddress returns the account that produced sigHex over msg.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sigHex over msg was produced by addr.
func Verify(addr common.Address, msg []byte, sigHex string) error {
	got, err := RecoverAddress(msg, sigHex)
	if err != nil {
		return err
	}
	if got != addr {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, got.Hex())
	}
	return nil
}

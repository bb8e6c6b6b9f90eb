package hive

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

const wifVersion = 0x80

// ErrUnknownAccount se devuelve al firmar para una cuenta sin keys cargadas.
var ErrUnknownAccount = errors.New("hive: unknown account")

// AccountKeys son las keys WIF de una cuenta. Cualquiera puede faltar.
type AccountKeys struct {
	Active  string
	Posting string
}

type keyPair struct {
	active  *ecdsa.PrivateKey
	posting *ecdsa.PrivateKey
}

// Keyring guarda las keys privadas decodificadas por cuenta.
type Keyring struct {
	keys map[string]keyPair
}

// NewKeyring decodifica las keys WIF de cada cuenta.
func NewKeyring(accounts map[string]AccountKeys) (*Keyring, error) {
	kr := &Keyring{keys: make(map[string]keyPair, len(accounts))}
	for name, ak := range accounts {
		var kp keyPair
		var err error
		if ak.Active != "" {
			if kp.active, err = ParseWIF(ak.Active); err != nil {
				return nil, fmt.Errorf("hive.NewKeyring: %s active key: %w", name, err)
			}
		}
		if ak.Posting != "" {
			if kp.posting, err = ParseWIF(ak.Posting); err != nil {
				return nil, fmt.Errorf("hive.NewKeyring: %s posting key: %w", name, err)
			}
		}
		kr.keys[name] = kp
	}
	return kr, nil
}

// Key devuelve la key con la que firma account: active o posting.
func (k *Keyring) Key(account string, active bool) (*ecdsa.PrivateKey, error) {
	kp, ok := k.keys[account]
	key := kp.posting
	if active {
		key = kp.active
	}
	if !ok || key == nil {
		role := "posting"
		if active {
			role = "active"
		}
		return nil, fmt.Errorf("%w: %s (%s key)", ErrUnknownAccount, account, role)
	}
	return key, nil
}

// ParseWIF decodifica una key privada en formato WIF: base58(0x80 | key | checksum),
// con checksum = sha256(sha256(0x80 | key))[:4].
func ParseWIF(wif string) (*ecdsa.PrivateKey, error) {
	raw, err := base58.Decode(wif)
	if err != nil {
		return nil, fmt.Errorf("base58: %w", err)
	}
	if len(raw) != 37 || raw[0] != wifVersion {
		return nil, errors.New("invalid WIF length or version")
	}
	payload, sum := raw[:33], raw[33:]
	if !bytes.Equal(checksum(payload), sum) {
		return nil, errors.New("invalid WIF checksum")
	}
	key, err := crypto.ToECDSA(payload[1:])
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return key, nil
}

// EncodeWIF es la inversa de ParseWIF.
func EncodeWIF(key *ecdsa.PrivateKey) string {
	payload := append([]byte{wifVersion}, crypto.FromECDSA(key)...)
	return base58.Encode(append(payload, checksum(payload)...))
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:4]
}

package hive

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

const (
	// MainnetChainID es el chain id de Hive mainnet.
	MainnetChainID = "beeab0de00000000000000000000000000000000000000000000000000000000"

	customJSONOpID = 18
	timeLayout     = "2006-01-02T15:04:05"

	// 27 + 4 (clave comprimida) + recovery id
	compactSigHeader = 31
	maxSignAttempts  = 64
)

// Transaction es una transacción de Hive con operaciones custom_json.
type Transaction struct {
	RefBlockNum    uint16
	RefBlockPrefix uint32
	Expiration     time.Time
	Operations     []domain.CustomJSON
	Signatures     []string
}

// NewTransaction referencia el bloque head y expira expiration después de headTime.
func NewTransaction(headBlock int64, headBlockID string, headTime time.Time, expiration time.Duration, ops ...domain.CustomJSON) (*Transaction, error) {
	id, err := hex.DecodeString(headBlockID)
	if err != nil || len(id) < 8 {
		return nil, fmt.Errorf("hive.NewTransaction: invalid block id %q", headBlockID)
	}
	return &Transaction{
		RefBlockNum:    uint16(headBlock & 0xffff),
		RefBlockPrefix: binary.LittleEndian.Uint32(id[4:8]),
		Expiration:     headTime.Add(expiration).UTC().Truncate(time.Second),
		Operations:     ops,
	}, nil
}

// Serialize codifica la transacción sin firmas en el formato binario del protocolo.
func (t *Transaction) Serialize() []byte {
	b := binary.LittleEndian.AppendUint16(nil, t.RefBlockNum)
	b = binary.LittleEndian.AppendUint32(b, t.RefBlockPrefix)
	b = binary.LittleEndian.AppendUint32(b, uint32(t.Expiration.Unix()))
	b = binary.AppendUvarint(b, uint64(len(t.Operations)))
	for _, op := range t.Operations {
		b = binary.AppendUvarint(b, customJSONOpID)
		b = appendStrings(b, op.RequiredAuths)
		b = appendStrings(b, op.RequiredPostingAuths)
		b = appendString(b, op.ID)
		b = appendString(b, op.JSON)
	}
	// extensions
	return binary.AppendUvarint(b, 0)
}

// ID es el id de la transacción: los primeros 20 bytes de sha256 del binario, en hex.
func (t *Transaction) ID() string {
	sum := sha256.Sum256(t.Serialize())
	return hex.EncodeToString(sum[:20])
}

// Digest es lo que se firma: sha256(chain id | binario).
func (t *Transaction) Digest(chainID []byte) []byte {
	h := sha256.New()
	h.Write(chainID)
	h.Write(t.Serialize())
	return h.Sum(nil)
}

// Sign firma la transacción con key. La firma de secp256k1 es determinista, así
// que si no sale canónica se mueve la expiración un segundo y se vuelve a firmar.
func (t *Transaction) Sign(chainID []byte, key *ecdsa.PrivateKey) error {
	for i := 0; i < maxSignAttempts; i++ {
		sig, err := crypto.Sign(t.Digest(chainID), key)
		if err != nil {
			return fmt.Errorf("hive.Sign: %w", err)
		}
		compact := make([]byte, 65)
		compact[0] = sig[64] + compactSigHeader
		copy(compact[1:], sig[:64])
		if isCanonical(compact) {
			t.Signatures = append(t.Signatures, hex.EncodeToString(compact))
			return nil
		}
		t.Expiration = t.Expiration.Add(time.Second)
	}
	return errors.New("hive.Sign: no canonical signature")
}

// isCanonical aplica la regla de firmas canónicas de los nodos.
func isCanonical(sig []byte) bool {
	r, s := sig[1:33], sig[33:65]
	return r[0]&0x80 == 0 && !(r[0] == 0 && r[1]&0x80 == 0) &&
		s[0]&0x80 == 0 && !(s[0] == 0 && s[1]&0x80 == 0)
}

// RecoverPublicKey devuelve la clave pública que produjo una firma compacta.
func RecoverPublicKey(digest []byte, sigHex string) (*ecdsa.PublicKey, error) {
	compact, err := hex.DecodeString(sigHex)
	if err != nil || len(compact) != 65 {
		return nil, errors.New("hive.RecoverPublicKey: invalid signature")
	}
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0] - compactSigHeader
	return crypto.SigToPub(digest, sig)
}

// MarshalJSON produce la forma que aceptan los nodos en broadcast_transaction.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	ops := make([][2]any, len(t.Operations))
	for i, op := range t.Operations {
		if op.RequiredAuths == nil {
			op.RequiredAuths = []string{}
		}
		if op.RequiredPostingAuths == nil {
			op.RequiredPostingAuths = []string{}
		}
		ops[i] = [2]any{"custom_json", op}
	}
	sigs := t.Signatures
	if sigs == nil {
		sigs = []string{}
	}
	return json.Marshal(struct {
		RefBlockNum    uint16     `json:"ref_block_num"`
		RefBlockPrefix uint32     `json:"ref_block_prefix"`
		Expiration     string     `json:"expiration"`
		Operations     [][2]any   `json:"operations"`
		Extensions     []struct{} `json:"extensions"`
		Signatures     []string   `json:"signatures"`
	}{
		RefBlockNum:    t.RefBlockNum,
		RefBlockPrefix: t.RefBlockPrefix,
		Expiration:     t.Expiration.UTC().Format(timeLayout),
		Operations:     ops,
		Extensions:     []struct{}{},
		Signatures:     sigs,
	})
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendStrings(b []byte, list []string) []byte {
	b = binary.AppendUvarint(b, uint64(len(list)))
	for _, s := range list {
		b = appendString(b, s)
	}
	return b
}

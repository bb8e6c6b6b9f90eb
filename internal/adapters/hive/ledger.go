// Package hive implementa ports.Ledger sobre los nodos JSON-RPC de Hive:
// firma local de custom_json, broadcast, altura de bloque, RC y stream de operaciones.
package hive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

const (
	defaultExpiration   = 10 * time.Minute
	defaultPollInterval = time.Second
	streamBuffer        = 256

	// el mana de RC se regenera entero en 5 días
	rcRegenSeconds = 5 * 24 * 60 * 60
)

// Config configura el ledger.
type Config struct {
	Nodes        []string
	ChainID      string
	Timeout      time.Duration
	Expiration   time.Duration
	PollInterval time.Duration
}

// Ledger implementa ports.Ledger.
type Ledger struct {
	rpc     *rpcClient
	keys    *Keyring
	chainID []byte
	cfg     Config
}

// New crea el Ledger. keys puede ser nil si solo se va a leer el stream.
func New(cfg Config, keys *Keyring) (*Ledger, error) {
	if cfg.ChainID == "" {
		cfg.ChainID = MainnetChainID
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = defaultExpiration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	chainID, err := hex.DecodeString(cfg.ChainID)
	if err != nil || len(chainID) != 32 {
		return nil, fmt.Errorf("hive.New: invalid chain id %q", cfg.ChainID)
	}
	if keys == nil {
		keys = &Keyring{}
	}
	return &Ledger{
		rpc:     newRPCClient(cfg.Nodes, cfg.Timeout),
		keys:    keys,
		chainID: chainID,
		cfg:     cfg,
	}, nil
}

type globalProperties struct {
	HeadBlockNumber int64  `json:"head_block_number"`
	HeadBlockID     string `json:"head_block_id"`
	Time            string `json:"time"`
}

func (l *Ledger) globals(ctx context.Context) (globalProperties, error) {
	var gp globalProperties
	err := l.rpc.call(ctx, "condenser_api.get_dynamic_global_properties", []any{}, &gp)
	return gp, err
}

// Broadcast firma op con la key del signer y la envía. El id se calcula localmente.
func (l *Ledger) Broadcast(ctx context.Context, op domain.CustomJSON) (string, error) {
	signer, active := op.Signer()
	key, err := l.keys.Key(signer, active)
	if err != nil {
		return "", fmt.Errorf("hive.Broadcast: %w", err)
	}
	gp, err := l.globals(ctx)
	if err != nil {
		return "", fmt.Errorf("hive.Broadcast: globals: %w", err)
	}
	headTime, err := time.Parse(timeLayout, gp.Time)
	if err != nil {
		return "", fmt.Errorf("hive.Broadcast: head time: %w", err)
	}
	tx, err := NewTransaction(gp.HeadBlockNumber, gp.HeadBlockID, headTime, l.cfg.Expiration, op)
	if err != nil {
		return "", fmt.Errorf("hive.Broadcast: %w", err)
	}
	if err := tx.Sign(l.chainID, key); err != nil {
		return "", err
	}
	if err := l.rpc.call(ctx, "condenser_api.broadcast_transaction", []any{tx}, nil); err != nil {
		return "", fmt.Errorf("hive.Broadcast: %w", err)
	}
	id := tx.ID()
	slog.Debug("hive: broadcast", "id", id, "op", op.ID, "signer", signer)
	return id, nil
}

// BlockHeight devuelve el bloque head.
func (l *Ledger) BlockHeight(ctx context.Context) (int64, error) {
	gp, err := l.globals(ctx)
	if err != nil {
		return 0, fmt.Errorf("hive.BlockHeight: %w", err)
	}
	return gp.HeadBlockNumber, nil
}

// RCMana devuelve el mana actual de RC en miles de millones, con la regeneración
// desde la última actualización.
func (l *Ledger) RCMana(ctx context.Context, account string) (float64, error) {
	var resp struct {
		RCAccounts []struct {
			Account   string        `json:"account"`
			MaxRC     domain.Amount `json:"max_rc"`
			RCManabar struct {
				CurrentMana    domain.Amount `json:"current_mana"`
				LastUpdateTime int64         `json:"last_update_time"`
			} `json:"rc_manabar"`
		} `json:"rc_accounts"`
	}
	params := map[string]any{"accounts": []string{account}}
	if err := l.rpc.call(ctx, "rc_api.find_rc_accounts", params, &resp); err != nil {
		return 0, fmt.Errorf("hive.RCMana: %w", err)
	}
	if len(resp.RCAccounts) == 0 {
		return 0, fmt.Errorf("hive.RCMana: %w: %s", ErrUnknownAccount, account)
	}
	rc := resp.RCAccounts[0]
	maxRC := rc.MaxRC.Float()
	elapsed := float64(time.Now().Unix() - rc.RCManabar.LastUpdateTime)
	mana := rc.RCManabar.CurrentMana.Float() + math.Max(elapsed, 0)*maxRC/rcRegenSeconds
	return math.Min(mana, maxRC) / 1e9, nil
}

type blockOp struct {
	TrxID     string             `json:"trx_id"`
	Block     int64              `json:"block"`
	Timestamp string             `json:"timestamp"`
	Op        [2]json.RawMessage `json:"op"`
}

func (l *Ledger) opsInBlock(ctx context.Context, block int64) ([]domain.OperationEvent, error) {
	var ops []blockOp
	if err := l.rpc.call(ctx, "condenser_api.get_ops_in_block", []any{block, false}, &ops); err != nil {
		return nil, fmt.Errorf("hive.opsInBlock: %d: %w", block, err)
	}
	out := make([]domain.OperationEvent, 0, len(ops))
	for _, o := range ops {
		var name string
		if err := json.Unmarshal(o.Op[0], &name); err != nil {
			continue
		}
		ts, _ := time.Parse(timeLayout, o.Timestamp)
		out = append(out, domain.OperationEvent{
			Name:      name,
			Payload:   o.Op[1],
			TxID:      o.TrxID,
			Timestamp: ts.UTC(),
			Block:     block,
		})
	}
	return out, nil
}

// Stream recorre los bloques desde from (0 = head actual) y emite sus operaciones
// en orden. Un bloque que falla se reintenta en la siguiente vuelta.
func (l *Ledger) Stream(ctx context.Context, from int64) (<-chan domain.OperationEvent, <-chan error) {
	events := make(chan domain.OperationEvent, streamBuffer)
	errs := make(chan error, 16)

	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	go func() {
		defer close(events)
		defer close(errs)
		next := from
		for {
			head, err := l.BlockHeight(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				report(err)
			}
			if err == nil && next <= 0 {
				next = head
			}
			for err == nil && next <= head {
				var ops []domain.OperationEvent
				ops, err = l.opsInBlock(ctx, next)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					report(err)
					break
				}
				for _, ev := range ops {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
				next++
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.cfg.PollInterval):
			}
		}
	}()
	return events, errs
}

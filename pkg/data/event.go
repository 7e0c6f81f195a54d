package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol action vocabulary (Aave V2 event names).
const (
	ActionDeposit     = "deposit"
	ActionBorrow      = "borrow"
	ActionRepay       = "repay"
	ActionRedeem      = "redeemunderlying"
	ActionLiquidation = "liquidationcall"
)

const (
	// Amounts below this are treated as dust/test transactions and dropped.
	minAmountThreshold = 1e-10

	tsFormat = time.RFC3339

	insertEventSQL = `INSERT INTO event (
			wallet, action, amount, ts, asset, gas_used, gas_price
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (wallet, action, amount, ts, asset) DO NOTHING
	`

	selectEventsSQL = `SELECT wallet, action, amount, ts, asset, gas_used, gas_price
		FROM event
		ORDER BY wallet ASC, ts ASC, id ASC
	`
)

var Actions = []string{
	ActionDeposit,
	ActionBorrow,
	ActionRepay,
	ActionRedeem,
	ActionLiquidation,
}

// Event is one normalized ledger action by one wallet. Immutable once
// normalized; feature extraction derives statistics without writing back.
type Event struct {
	Wallet    string    `json:"wallet"`
	Action    string    `json:"action"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Asset     string    `json:"asset,omitempty"`
	GasUsed   float64   `json:"gas_used,omitempty"`
	GasPrice  float64   `json:"gas_price,omitempty"`
}

// RawTransaction is one record as it arrives from a snapshot file or
// indexer API. Amount and timestamp types vary between sources, so they
// are coerced during normalization.
type RawTransaction struct {
	WalletAddress string `json:"wallet_address"`
	Action        string `json:"action"`
	Amount        any    `json:"amount"`
	Timestamp     any    `json:"timestamp"`
	Asset         string `json:"asset,omitempty"`
	GasUsed       any    `json:"gas_used,omitempty"`
	GasPrice      any    `json:"gas_price,omitempty"`
}

// NormalizeResult summarizes one normalization pass.
type NormalizeResult struct {
	Received      int `json:"received" yaml:"received"`
	Valid         int `json:"valid" yaml:"valid"`
	Invalid       int `json:"invalid" yaml:"invalid"`
	NonHexWallets int `json:"non_hex_wallets,omitempty" yaml:"nonHexWallets,omitempty"`
}

// Normalize validates and cleans raw transactions: records missing a
// required attribute, carrying an unknown action, or with a non-positive
// (or dust) amount are dropped and counted, never stored. Wallet addresses
// are lowercased; the returned events are ordered by wallet, then time.
func Normalize(raw []RawTransaction) ([]Event, *NormalizeResult) {
	res := &NormalizeResult{Received: len(raw)}
	events := make([]Event, 0, len(raw))

	valid := make(map[string]bool, len(Actions))
	for _, a := range Actions {
		valid[a] = true
	}

	for _, r := range raw {
		wallet := strings.ToLower(strings.TrimSpace(r.WalletAddress))
		action := strings.ToLower(strings.TrimSpace(r.Action))

		amount, amountOK := coerceNumber(r.Amount)
		ts, tsOK := coerceTime(r.Timestamp)

		if wallet == "" || action == "" || !amountOK || !tsOK ||
			!valid[action] || amount < minAmountThreshold {
			res.Invalid++
			continue
		}

		if !common.IsHexAddress(wallet) {
			res.NonHexWallets++
		}

		gasUsed, _ := coerceNumber(r.GasUsed)
		gasPrice, _ := coerceNumber(r.GasPrice)

		events = append(events, Event{
			Wallet:    wallet,
			Action:    action,
			Amount:    amount,
			Timestamp: ts,
			Asset:     strings.ToLower(strings.TrimSpace(r.Asset)),
			GasUsed:   gasUsed,
			GasPrice:  gasPrice,
		})
		res.Valid++
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Wallet != events[j].Wallet {
			return events[i].Wallet < events[j].Wallet
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	if res.NonHexWallets > 0 {
		slog.Warn("wallet identifiers that are not hex addresses were accepted",
			"count", res.NonHexWallets)
	}

	return events, res
}

// SaveResult summarizes one event persistence pass.
type SaveResult struct {
	Inserted int `json:"inserted" yaml:"inserted"`
	Skipped  int `json:"skipped" yaml:"skipped"`
}

// SaveEvents inserts normalized events in a single transaction. Duplicate
// events (same wallet, action, amount, time, asset) are skipped, so
// re-importing the same snapshot is idempotent.
func SaveEvents(db *sql.DB, events []Event) (*SaveResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	res := &SaveResult{}
	if len(events) == 0 {
		return res, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting event tx: %w", err)
	}

	stmt, err := tx.Prepare(insertEventSQL)
	if err != nil {
		rollbackTransaction(tx)
		return nil, fmt.Errorf("preparing event insert: %w", err)
	}

	total := len(events)
	logEvery := total / 10
	if logEvery < 1 {
		logEvery = 1
	}

	for i, e := range events {
		r, execErr := stmt.Exec(
			e.Wallet, e.Action, e.Amount,
			e.Timestamp.UTC().Truncate(time.Second).Format(tsFormat),
			e.Asset, e.GasUsed, e.GasPrice,
		)
		if execErr != nil {
			rollbackTransaction(tx)
			return nil, fmt.Errorf("inserting event for %s: %w", e.Wallet, execErr)
		}

		n, _ := r.RowsAffected()
		if n > 0 {
			res.Inserted++
		} else {
			res.Skipped++
		}

		if (i+1)%logEvery == 0 {
			slog.Debug("event import progress", "saved", i+1, "total", total)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing event tx: %w", err)
	}

	slog.Info("events saved", "inserted", res.Inserted, "skipped", res.Skipped)

	return res, nil
}

// GetWalletSequences returns one time-ascending event sequence per wallet,
// dropping wallets with fewer than minEvents events.
func GetWalletSequences(db *sql.DB, minEvents int) (map[string][]Event, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if minEvents < 1 {
		minEvents = 1
	}

	rows, err := db.Query(selectEventsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	seqs := make(map[string][]Event)
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.Wallet, &e.Action, &e.Amount, &ts, &e.Asset, &e.GasUsed, &e.GasPrice); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Timestamp, err = time.Parse(tsFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp %q: %w", ts, err)
		}
		seqs[e.Wallet] = append(seqs[e.Wallet], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading event rows: %w", err)
	}

	for w, s := range seqs {
		if len(s) < minEvents {
			delete(seqs, w)
		}
	}

	return seqs, nil
}

// LoadSnapshot decodes a raw transaction snapshot (a JSON array).
func LoadSnapshot(b []byte) ([]RawTransaction, error) {
	var raw []RawTransaction
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decoding transaction snapshot: %w", err)
	}
	return raw, nil
}

func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		// Some sources serialize unix seconds as strings.
		if sec, err := strconv.ParseFloat(s, 64); err == nil && sec > 0 {
			return time.Unix(int64(sec), 0).UTC(), true
		}
		return time.Time{}, false
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t), 0).UTC(), true
	case json.Number:
		sec, err := t.Float64()
		if err != nil || sec <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(sec), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func rollbackTransaction(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		slog.Debug("error rolling back transaction", "error", err)
	}
}

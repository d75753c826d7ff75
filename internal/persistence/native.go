package persistence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stellar/go/txnbuild"

	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/stellar"
)

// Data entry layout.
const (
	DataKey   = "scores"
	ChunkSize = 50
)

// NativeStrategy stores records as ManageData entries on the wallet's own
// account.
type NativeStrategy struct {
	ledger  Ledger
	network stellar.Network
	baseFee uint32
}

// NewNativeStrategy creates a data-entry strategy.
func NewNativeStrategy(ledger Ledger, network stellar.Network, baseFee uint32) *NativeStrategy {
	return &NativeStrategy{ledger: ledger, network: network, baseFee: baseFee}
}

func (s *NativeStrategy) Kind() Kind { return KindNative }

// BuildSave drafts the ManageData operations for rec. Entries left over from
// a previous, longer record are deleted in the same transaction.
func (s *NativeStrategy) BuildSave(ctx context.Context, address string, rec ScoreRecord) (*Draft, error) {
	if !stellar.ValidAccount(address) {
		return nil, stellar.ErrInvalidAddress
	}
	entries, err := EncodeEntries(rec)
	if err != nil {
		return nil, err
	}

	acct, err := s.ledger.Account(ctx, address)
	if err != nil {
		return nil, err
	}

	ops := make([]txnbuild.Operation, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, e)
	}
	for _, name := range staleKeys(acct.Data, entries) {
		del, err := stellar.ManageData(name, nil)
		if err != nil {
			return nil, err
		}
		ops = append(ops, del)
	}

	tx, err := stellar.NewTransaction(address, acct.Sequence+1, int64(s.baseFee), ops...)
	if err != nil {
		return nil, err
	}
	return draftOf(tx, s.network, KindNative)
}

// Read reassembles the record from the account's data entries.
func (s *NativeStrategy) Read(ctx context.Context, address string) (*ScoreRecord, error) {
	acct, err := s.ledger.Account(ctx, address)
	if err != nil {
		if errors.Is(err, horizon.ErrAccountNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	rec, err := DecodeEntries(acct)
	if err != nil {
		return nil, err
	}
	rec.Source = KindNative
	return rec, nil
}

// EncodeEntries lays out rec as data entries. A record whose JSON fits in
// one value goes under DataKey. Longer records are base64 encoded and the
// text split into ChunkSize pieces under DataKey_0..DataKey_N.
func EncodeEntries(rec ScoreRecord) ([]*txnbuild.ManageData, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("persistence: encode record: %w", err)
	}
	if len(raw) <= stellar.MaxDataValueSize {
		op, err := stellar.ManageData(DataKey, raw)
		if err != nil {
			return nil, err
		}
		return []*txnbuild.ManageData{op}, nil
	}

	text := base64.StdEncoding.EncodeToString(raw)
	chunks := Chunk(text, ChunkSize)
	if len(chunks) > stellar.MaxOperations {
		return nil, stellar.ErrTooManyOperations
	}
	out := make([]*txnbuild.ManageData, len(chunks))
	for i, c := range chunks {
		op, err := stellar.ManageData(chunkKey(i), []byte(c))
		if err != nil {
			return nil, err
		}
		out[i] = op
	}
	return out, nil
}

// DecodeEntries reads a record from an account's data map. A single entry
// under DataKey wins. Otherwise chunks 0..N must all be present; any gap
// returns ErrRecordNotFound.
func DecodeEntries(acct *horizon.Account) (*ScoreRecord, error) {
	if raw, ok := acct.DataValue(DataKey); ok {
		return parseRecord(raw)
	}

	indexes := chunkIndexes(acct.Data)
	if len(indexes) == 0 {
		return nil, ErrRecordNotFound
	}
	parts := make([]string, 0, len(indexes))
	for i := range indexes {
		if indexes[i] != i {
			return nil, fmt.Errorf("%w: missing chunk %d", ErrRecordNotFound, i)
		}
		v, ok := acct.DataValue(chunkKey(i))
		if !ok {
			return nil, fmt.Errorf("%w: unreadable chunk %d", ErrRecordNotFound, i)
		}
		parts = append(parts, string(v))
	}

	raw, err := base64.StdEncoding.DecodeString(strings.Join(parts, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: chunks are not base64", ErrRecordNotFound)
	}
	return parseRecord(raw)
}

// Chunk splits s into pieces of at most size bytes.
func Chunk(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" || len(out) == 0 {
		out = append(out, s)
	}
	return out
}

func parseRecord(raw []byte) (*ScoreRecord, error) {
	var rec ScoreRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordNotFound, err)
	}
	return &rec, nil
}

func chunkKey(i int) string { return DataKey + "_" + strconv.Itoa(i) }

// chunkIndexes returns the sorted indexes of DataKey_N entries.
func chunkIndexes(data map[string]string) []int {
	var out []int
	prefix := DataKey + "_"
	for k := range data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		i, err := strconv.Atoi(k[len(prefix):])
		if err != nil || i < 0 {
			continue
		}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// staleKeys lists existing score entries the new layout does not overwrite.
func staleKeys(data map[string]string, entries []*txnbuild.ManageData) []string {
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[e.Name] = true
	}
	var out []string
	if _, ok := data[DataKey]; ok && !keep[DataKey] {
		out = append(out, DataKey)
	}
	for _, i := range chunkIndexes(data) {
		if k := chunkKey(i); !keep[k] {
			out = append(out, k)
		}
	}
	return out
}

func draftOf(tx *txnbuild.Transaction, network stellar.Network, kind Kind) (*Draft, error) {
	env, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("persistence: encode envelope: %w", err)
	}
	hash, err := tx.HashHex(network.Passphrase())
	if err != nil {
		return nil, fmt.Errorf("persistence: hash transaction: %w", err)
	}
	return &Draft{
		XDR:            env,
		Network:        network,
		Strategy:       kind,
		OperationCount: len(tx.Operations()),
		Fee:            uint32(tx.MaxFee()),
		Sequence:       tx.SequenceNumber(),
		Hash:           hash,
	}, nil
}

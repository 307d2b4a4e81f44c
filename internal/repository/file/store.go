// Package file persists the ledger as JSON lines under one directory. The
// account set is rewritten through a temp file and rename; transactions and
// logs are append-only.
package file

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"bank-service/internal/models"
	"bank-service/internal/repository/memory"
	"bank-service/internal/util"
)

const (
	AccountsFile     = "accounts.jsonl"
	TransactionsFile = "transactions.jsonl"
	ActivityFile     = "activity.jsonl"
	InteractionsFile = "interactions.jsonl"
)

const maxLineSize = 1 << 20

// Persister writes memory.Store mutations to disk.
type Persister struct {
	dir string
	mu  sync.Mutex
}

var _ memory.Persister = (*Persister)(nil)

// Open loads dir (creating it if needed) and returns a store backed by it.
func Open(dir string) (*memory.Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	p := &Persister{dir: dir}
	snap, err := p.Load()
	if err != nil {
		return nil, err
	}
	util.Info("File ledger loaded",
		util.String("dir", dir),
		util.Int("accounts", len(snap.Accounts)),
		util.Int("transactions", len(snap.Transactions)))
	return memory.NewWithPersister(snap, p), nil
}

func (p *Persister) path(name string) string {
	return filepath.Join(p.dir, name)
}

// Load reads every file. Missing files are treated as empty.
func (p *Persister) Load() (memory.Snapshot, error) {
	var (
		snap memory.Snapshot
		err  error
	)
	if snap.Accounts, err = readLines[*models.Account](p.path(AccountsFile)); err != nil {
		return snap, err
	}
	if snap.Transactions, err = readLines[models.TransactionRecord](p.path(TransactionsFile)); err != nil {
		return snap, err
	}
	if snap.Activities, err = readLines[models.ActivityEntry](p.path(ActivityFile)); err != nil {
		return snap, err
	}
	if snap.Interactions, err = readLines[models.ChatInteraction](p.path(InteractionsFile)); err != nil {
		return snap, err
	}
	return snap, nil
}

func (p *Persister) SaveAccounts(accounts []*models.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	if err := encodeLines(&buf, accounts); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(p.dir, AccountsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write accounts: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync accounts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close accounts: %w", err)
	}
	if err := os.Rename(tmpName, p.path(AccountsFile)); err != nil {
		return fmt.Errorf("failed to replace accounts: %w", err)
	}
	return nil
}

func (p *Persister) AppendRecords(records []models.TransactionRecord) (func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.path(TransactionsFile)
	size, err := fileSize(path)
	if err != nil {
		return nil, err
	}
	if err := appendLines(path, records); err != nil {
		// drop a partial write
		_ = os.Truncate(path, size)
		return nil, err
	}
	return func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		return os.Truncate(path, size)
	}, nil
}

func (p *Persister) AppendActivity(e models.ActivityEntry) error {
	e.Activity = util.StripControl(e.Activity)
	p.mu.Lock()
	defer p.mu.Unlock()
	return appendLines(p.path(ActivityFile), []models.ActivityEntry{e})
}

func (p *Persister) AppendInteraction(in models.ChatInteraction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return appendLines(p.path(InteractionsFile), []models.ChatInteraction{in})
}

func (p *Persister) Close() error {
	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
	}
	return info.Size(), nil
}

func encodeLines[T any](buf *bytes.Buffer, values []T) error {
	enc := json.NewEncoder(buf)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode line: %w", err)
		}
	}
	return nil
}

func appendLines[T any](path string, values []T) error {
	var buf bytes.Buffer
	if err := encodeLines(&buf, values); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func readLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

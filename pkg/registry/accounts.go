package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Account connection statuses.
const (
	AccountStatusConnected    = "connected"
	AccountStatusDisconnected = "disconnected"
)

// ErrAccountNotFound is returned for lookups of unknown account ids.
var ErrAccountNotFound = errors.New("account not found")

// Account is a broker account known to the gateway.
type Account struct {
	AccountID         string   `json:"accountId"`
	ConnectorID       string   `json:"connectorId"`
	ProviderAccountID string   `json:"providerAccountId"`
	Mode              string   `json:"mode"`
	Label             string   `json:"label"`
	AllowedSymbols    []string `json:"allowedSymbols"`
	Status            string   `json:"status"`
	ConnectedAt       *string  `json:"connectedAt"`
	DisconnectedAt    *string  `json:"disconnectedAt"`
}

// AccountSpec is the caller-supplied description of an account to connect.
type AccountSpec struct {
	AccountID         string
	ConnectorID       string
	ProviderAccountID string
	Mode              string
	Label             string
	AllowedSymbols    []string
}

// Accounts is the broker account registry.
type Accounts struct {
	mu       sync.Mutex
	accounts map[string]*Account
	path     string
	logger   *slog.Logger
	now      func() time.Time
}

// NewAccounts creates the registry and loads any persisted accounts.
func NewAccounts(path string) *Accounts {
	r := &Accounts{
		accounts: map[string]*Account{},
		path:     path,
		logger:   slog.With("component", "accounts_registry"),
		now:      time.Now,
	}
	for _, account := range loadVersionedList[Account](path, "accounts", r.logger) {
		copied := account
		r.accounts[account.AccountID] = &copied
	}
	return r
}

// Connect registers or reconnects an account. An existing account with the
// same id is upserted: identity fields are refreshed from the given spec and the
// connection status reset.
func (r *Accounts) Connect(spec AccountSpec) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now().UTC().Format(time.RFC3339)
	account := &Account{
		AccountID:         spec.AccountID,
		ConnectorID:       spec.ConnectorID,
		ProviderAccountID: spec.ProviderAccountID,
		Mode:              spec.Mode,
		Label:             spec.Label,
		AllowedSymbols:    append([]string{}, spec.AllowedSymbols...),
		Status:            AccountStatusConnected,
		ConnectedAt:       &ts,
		DisconnectedAt:    nil,
	}
	r.accounts[spec.AccountID] = account

	r.logger.Info("Account connected", "account_id", spec.AccountID, "mode", spec.Mode)
	if err := r.persistLocked(); err != nil {
		return Account{}, err
	}
	return *account, nil
}

// Disconnect marks an account disconnected.
func (r *Accounts) Disconnect(accountID string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	ts := r.now().UTC().Format(time.RFC3339)
	account.Status = AccountStatusDisconnected
	account.DisconnectedAt = &ts

	r.logger.Info("Account disconnected", "account_id", accountID)
	if err := r.persistLocked(); err != nil {
		return Account{}, err
	}
	return *account, nil
}

// Get returns one account by id.
func (r *Accounts) Get(accountID string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return *account, nil
}

// List returns all accounts ordered by account id.
func (r *Accounts) List() []Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Accounts) sortedLocked() []Account {
	accounts := make([]Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		accounts = append(accounts, *account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].AccountID < accounts[j].AccountID })
	return accounts
}

func (r *Accounts) persistLocked() error {
	return saveVersionedList(r.path, "accounts", r.sortedLocked())
}

package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/topcerry22/ballerexeserver/model"
)

var (
	ErrAccountNotFound = errors.New("account is not found")
)

// AccountStore is the in-memory stand-in for the external account
// collaborator. The core only ever needs a key-value lookup by username.
//
// Unlike the session-state stores this one has its own lock: it is read
// from both the match service and the HTTP API.
type AccountStore struct {
	mx *sync.Mutex
	db map[string]model.Account
}

func NewAccountStore(seed ...string) *AccountStore {
	as := &AccountStore{
		mx: &sync.Mutex{},
		db: make(map[string]model.Account),
	}
	for _, username := range seed {
		as.db[username] = model.Account{Username: username}
	}
	return as
}

func (as *AccountStore) Lookup(_ context.Context, username string) (model.Account, error) {
	as.mx.Lock()
	defer as.mx.Unlock()

	account, ok := as.db[username]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (as *AccountStore) Put(username string) {
	as.mx.Lock()
	defer as.mx.Unlock()
	as.db[username] = model.Account{Username: username}
}

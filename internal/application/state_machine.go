package application

import (
	"errors"
	"fmt"

	"github.com/oksasatya/account-auth/internal/domain/entity"
)

var ErrInvalidTransition = errors.New("invalid account state transition")

// transitions lists every allowed verification move. Verified is terminal.
var transitions = map[entity.AccountState][]entity.AccountState{
	entity.StateUnverified: {entity.StateVerified},
	entity.StateVerified:   {},
}

func CanTransition(from, to entity.AccountState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(u *entity.User, to entity.AccountState) error {
	from := u.State()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

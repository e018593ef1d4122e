package server

import (
	"fmt"
	"sync"

	"github.com/yourusername/quizbattle/internal/protocol"
)

// UserManager hands out participant profiles. The stub has no user service,
// so a profile is made up the first time a user id shows up.
type UserManager struct {
	users map[int64]protocol.Participant
	mu    sync.RWMutex
}

// NewUserManager creates a new user manager
func NewUserManager() *UserManager {
	return &UserManager{
		users: make(map[int64]protocol.Participant),
	}
}

// Profile gets the profile of userID, creating it on first use
func (um *UserManager) Profile(userID int64) protocol.Participant {
	um.mu.Lock()
	defer um.mu.Unlock()

	if user, exists := um.users[userID]; exists {
		return user
	}

	user := protocol.Participant{
		UserID:   userID,
		Username: fmt.Sprintf("player-%d", userID),
		Level:    1,
	}
	um.users[userID] = user
	return user
}

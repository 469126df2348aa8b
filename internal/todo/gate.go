package todo

import (
	"sync"

	"todo-task/backend/internal/auth"
)

// SignInRoute is where a client without a session is sent.
const SignInRoute = "/"

type Navigator func(route string)

// SessionGate follows the auth session and tells its dependents which user is signed in.
// Losing the session navigates to the sign-in route.
type SessionGate struct {
	unsubscribe func()

	mu     sync.Mutex
	userID string
}

func NewSessionGate(client *auth.Client, navigate Navigator, onUser func(userID string)) *SessionGate {
	g := &SessionGate{}
	g.unsubscribe = client.OnSessionChange(func(session *auth.Session) {
		userID := ""
		if session != nil {
			userID = session.UserID
		}

		g.mu.Lock()
		g.userID = userID
		g.mu.Unlock()

		if userID == "" && navigate != nil {
			navigate(SignInRoute)
		}
		if onUser != nil {
			onUser(userID)
		}
	})
	return g
}

func (g *SessionGate) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userID
}

func (g *SessionGate) Close() {
	g.unsubscribe()
}

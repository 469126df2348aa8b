package auth

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

type SessionFunc func(*Session)

// Registration is the sign-up form as the user filled it in.
type Registration struct {
	Email           string
	ConfirmEmail    string
	Password        string
	ConfirmPassword string
}

// Validate checks the form before anything is sent to the provider.
func (r Registration) Validate() error {
	if strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.ConfirmEmail) == "" ||
		r.Password == "" || r.ConfirmPassword == "" {
		return ErrMissingFields
	}
	if normalizeEmail(r.Email) != normalizeEmail(r.ConfirmEmail) {
		return ErrEmailMismatch
	}
	if r.Password != r.ConfirmPassword {
		return ErrPasswordMismatch
	}
	return nil
}

// Client holds the session of one browser and notifies observers whenever it changes.
type Client struct {
	provider Provider
	now      func() time.Time
	logger   *log.Logger

	// refreshMu lets one refresh run at a time; notifyMu keeps observers in change order.
	refreshMu sync.Mutex
	notifyMu  sync.Mutex

	mu        sync.Mutex
	session   *Session
	observers map[int]SessionFunc
	nextID    int
}

func NewClient(provider Provider, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		provider:  provider,
		now:       time.Now,
		logger:    logger,
		observers: make(map[int]SessionFunc),
	}
}

func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) UserID() string {
	if s := c.Session(); s != nil {
		return s.UserID
	}
	return ""
}

// OnSessionChange registers fn and calls it right away with the current session.
func (c *Client) OnSessionChange(fn SessionFunc) func() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	current := c.session
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Client) set(session *Session) {
	c.replace(nil, session, false)
}

// replace installs next and notifies observers. With onlyIf set, nothing happens unless the
// current session is still expected.
func (c *Client) replace(expected, next *Session, onlyIf bool) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if onlyIf && c.session != expected {
		c.mu.Unlock()
		return false
	}
	c.session = next
	observers := make([]SessionFunc, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return true
}

func (c *Client) SignIn(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return ErrMissingFields
	}

	session, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	c.set(session)
	return nil
}

func (c *Client) Register(ctx context.Context, reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	session, err := c.provider.Register(ctx, reg.Email, reg.Password)
	if err != nil {
		return err
	}
	c.set(session)
	return nil
}

// SignOut clears the session even if the provider fails to revoke it.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.Session()
	if session == nil {
		return nil
	}

	err := c.provider.SignOut(ctx, session)
	if err != nil {
		c.logger.Printf("[auth] sign out of %s: %v", session.UserID, err)
	}
	c.set(nil)
	return err
}

// CheckExpiry refreshes an expired session. When the refresh is rejected the session is
// cleared and observers see the user signed out. Concurrent callers share one refresh, and
// a result is dropped if the session changed while the provider was called.
func (c *Client) CheckExpiry(ctx context.Context) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	session := c.Session()
	if session == nil || !session.Expired(c.now()) {
		return
	}

	refreshed, err := c.provider.Refresh(ctx, session.RefreshToken)
	if err != nil {
		if c.replace(session, nil, true) {
			c.logger.Printf("[auth] session of %s expired: %v", session.UserID, err)
		}
		return
	}
	if !c.replace(session, refreshed, true) {
		if err := c.provider.SignOut(ctx, refreshed); err != nil {
			c.logger.Printf("[auth] revoking stale refresh of %s: %v", refreshed.UserID, err)
		}
	}
}

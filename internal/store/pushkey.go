package store

import (
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// PushChars is the key alphabet. It is in ASCII order so keys compare chronologically.
const PushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	pushTimeLen   = 8
	pushRandomLen = 12
)

// KeyGenerator produces 20 character push keys: 8 characters of millisecond timestamp
// followed by 12 random characters. Keys made in the same millisecond increment the random
// part of the previous key so they stay ordered.
type KeyGenerator struct {
	mu         sync.Mutex
	random     func() string
	now        func() time.Time
	lastMillis int64
	lastRandom []byte
}

func NewKeyGenerator() (*KeyGenerator, error) {
	random, err := nanoid.CustomASCII(PushChars, pushRandomLen)
	if err != nil {
		return nil, err
	}
	return &KeyGenerator{random: random, now: time.Now}, nil
}

func (g *KeyGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	millis := g.now().UnixMilli()
	if millis == g.lastMillis && g.lastRandom != nil {
		incrementKey(g.lastRandom)
	} else {
		g.lastRandom = []byte(g.random())
	}
	g.lastMillis = millis

	key := make([]byte, 0, pushTimeLen+pushRandomLen)
	key = append(key, encodeMillis(millis)...)
	key = append(key, g.lastRandom...)
	return string(key)
}

func encodeMillis(millis int64) []byte {
	out := make([]byte, pushTimeLen)
	for i := pushTimeLen - 1; i >= 0; i-- {
		out[i] = PushChars[millis%64]
		millis /= 64
	}
	return out
}

func incrementKey(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		idx := indexOf(b[i])
		if idx < 63 {
			b[i] = PushChars[idx+1]
			return
		}
		b[i] = PushChars[0]
	}
}

func indexOf(c byte) int {
	for i := 0; i < len(PushChars); i++ {
		if PushChars[i] == c {
			return i
		}
	}
	return 0
}

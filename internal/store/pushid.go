// README: Chronologically ordered push keys in the RTDB key format.
package store

import (
	"math/rand"
	"sync"
	"time"
)

const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// PushKeys generates 20-character keys: 8 characters of millisecond timestamp
// followed by 12 random characters that are incremented when two keys are
// minted in the same millisecond, so keys sort in creation order.
type PushKeys struct {
	mu     sync.Mutex
	lastMs int64
	rnd    [12]int
	now    func() time.Time
}

func NewPushKeys() *PushKeys {
	return &PushKeys{now: time.Now}
}

func (p *PushKeys) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ms := p.now().UnixMilli()
	if ms == p.lastMs {
		i := len(p.rnd) - 1
		for ; i >= 0 && p.rnd[i] == len(pushChars)-1; i-- {
			p.rnd[i] = 0
		}
		if i >= 0 {
			p.rnd[i]++
		}
	} else {
		for i := range p.rnd {
			p.rnd[i] = rand.Intn(len(pushChars))
		}
	}
	p.lastMs = ms

	var out [20]byte
	for i := 7; i >= 0; i-- {
		out[i] = pushChars[ms%int64(len(pushChars))]
		ms /= int64(len(pushChars))
	}
	for i, r := range p.rnd {
		out[8+i] = pushChars[r]
	}
	return string(out[:])
}

// internal/services/turn_locks.go
package services

import (
	"sync"
	"time"
)

const (
	maxTurnLocks   = 64
	turnLockExpiry = 30 * time.Minute
)

type turnLock struct {
	mu       sync.Mutex
	lastUsed time.Time
	refs     int
}

// TurnLocks 按角色串行化发言：同一角色同一时刻只进行一轮，不同角色可并发
type TurnLocks struct {
	globalLock sync.Mutex
	locks      map[string]*turnLock
}

// NewTurnLocks 创建锁表
func NewTurnLocks() *TurnLocks {
	return &TurnLocks{locks: make(map[string]*turnLock)}
}

func (tl *TurnLocks) acquire(id string) *turnLock {
	tl.globalLock.Lock()
	defer tl.globalLock.Unlock()

	l, ok := tl.locks[id]
	if !ok {
		if len(tl.locks) >= maxTurnLocks {
			tl.cleanupLocked(time.Now())
		}
		l = &turnLock{}
		tl.locks[id] = l
	}
	l.refs++
	l.lastUsed = time.Now()
	return l
}

func (tl *TurnLocks) release(l *turnLock) {
	tl.globalLock.Lock()
	l.refs--
	tl.globalLock.Unlock()
}

// cleanupLocked 只清理无人引用且长时间未使用的锁
func (tl *TurnLocks) cleanupLocked(now time.Time) {
	for id, l := range tl.locks {
		if l.refs == 0 && now.Sub(l.lastUsed) > turnLockExpiry {
			delete(tl.locks, id)
		}
	}
}

// Do 持有角色锁执行 fn
func (tl *TurnLocks) Do(id string, fn func() error) error {
	l := tl.acquire(id)
	defer tl.release(l)

	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// Len 当前锁数量
func (tl *TurnLocks) Len() int {
	tl.globalLock.Lock()
	defer tl.globalLock.Unlock()
	return len(tl.locks)
}

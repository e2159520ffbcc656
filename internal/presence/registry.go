package presence

import (
	"sort"
	"sync"
)

// User 记录一个用户的所有存活连接与推送 token。
// 用户一旦注册就不会被删除：断线后 token 与身份仍然保留。
type User struct {
	UserID  string
	ConnIDs []string
	Tokens  []string
}

// Entry 是 snapshot 输出的一行。
type Entry struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// Registry 以读写锁保护的用户表。在线 ⇔ 连接集非空。
type Registry struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*User)}
}

// Register 把连接挂到用户名下，首次注册时建档。
// 返回注册前该用户是否已经在线（多开 tab 的场景）。
func (r *Registry) Register(userID, connID string) (alreadyOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		u = &User{UserID: userID}
		r.users[userID] = u
	}
	alreadyOnline = len(u.ConnIDs) > 0
	for _, id := range u.ConnIDs {
		if id == connID {
			return alreadyOnline
		}
	}
	u.ConnIDs = append(u.ConnIDs, connID)
	return alreadyOnline
}

// AddToken 幂等地存储推送 token，返回该用户当前 token 总数。
func (r *Registry) AddToken(userID, token string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		u = &User{UserID: userID}
		r.users[userID] = u
	}
	for _, t := range u.Tokens {
		if t == token {
			return len(u.Tokens)
		}
	}
	u.Tokens = append(u.Tokens, token)
	return len(u.Tokens)
}

// RemoveToken 驱逐一个永久失效的 token。
func (r *Registry) RemoveToken(userID, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false
	}
	for i, t := range u.Tokens {
		if t == token {
			u.Tokens = append(u.Tokens[:i], u.Tokens[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveConn 摘掉断开的连接，并用 alive 回调顺手清理重连竞态留下的
// 僵尸连接 id；不清理的话用户永远不会被判定为完全离线。
// 返回该用户是否因此完全离线。
func (r *Registry) RemoveConn(userID, connID string, alive func(string) bool) (offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false
	}
	kept := u.ConnIDs[:0]
	for _, id := range u.ConnIDs {
		if id == connID {
			continue
		}
		if alive != nil && !alive(id) {
			continue
		}
		kept = append(kept, id)
	}
	u.ConnIDs = kept
	return len(u.ConnIDs) == 0
}

// OwnerOf 反查连接属于哪个用户。
func (r *Registry) OwnerOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, u := range r.users {
		for _, c := range u.ConnIDs {
			if c == connID {
				return id, true
			}
		}
	}
	return "", false
}

// Owns 校验连接确实注册在 userID 名下（身份校验的核心）。
func (r *Registry) Owns(userID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return false
	}
	for _, c := range u.ConnIDs {
		if c == connID {
			return true
		}
	}
	return false
}

func (r *Registry) Known(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	return ok && len(u.ConnIDs) > 0
}

// ConnIDs 返回用户当前连接 id 的副本。
func (r *Registry) ConnIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]string, len(u.ConnIDs))
	copy(out, u.ConnIDs)
	return out
}

// Tokens 返回用户推送 token 的副本。
func (r *Registry) Tokens(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]string, len(u.Tokens))
	copy(out, u.Tokens)
	return out
}

// Snapshot 返回除 exclude 外所有已知用户及其在线状态，按 user_id 排序。
func (r *Registry) Snapshot(exclude string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.users))
	for id, u := range r.users {
		if id == exclude {
			continue
		}
		out = append(out, Entry{UserID: id, IsOnline: len(u.ConnIDs) > 0})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ConnsExcept 收集除 exclude 外所有用户的全部连接 id，用于全局广播。
func (r *Registry) ConnsExcept(exclude string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, u := range r.users {
		if id == exclude {
			continue
		}
		out = append(out, u.ConnIDs...)
	}
	return out
}

package call

import (
	"errors"
	"sort"
	"sync"
	"time"

	"signalhub/internal/metrics"
)

type Status int

const (
	Ringing Status = iota
	Active
)

type Kind int

const (
	Direct Kind = iota
	Group
)

var (
	ErrNoSession       = errors.New("no such call session")
	ErrAlreadyRinging  = errors.New("call already ringing")
	ErrCalleeBusy      = errors.New("callee is busy on another call")
	ErrCallerBusy      = errors.New("caller is already on a call")
	ErrCallerMismatch  = errors.New("caller mismatch")
	ErrGroupCallExists = errors.New("group already has an active call")
	ErrNotParticipant  = errors.New("not a participant of this call")
)

// session：1:1 会话以被叫 user_id 为键，群呼以 group_id 为键。
// invited/accepted/declined 是显式集合（只对群呼使用），满足
// accepted ∪ declined ⊆ invited。
type session struct {
	key        string
	caller     string
	kind       Kind
	status     Status
	originConn string
	invited    map[string]struct{}
	accepted   map[string]struct{}
	declined   map[string]struct{}
	timer      *time.Timer
}

// Table 管理所有在途会话。方法只做短临界区状态变更并返回结果副本；
// 通知与推送由调用方在锁外完成。
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]*session)}
}

// 删除会话并尽力取消挂起的响铃定时器。取消是建议性的：
// 已经触发的定时器会在 Expire 里重新校验然后落空。
func (t *Table) removeLocked(key string) {
	s, ok := t.sessions[key]
	if !ok {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(t.sessions, key)
	metrics.ActiveCalls.Dec()
}

func (t *Table) insertLocked(s *session) {
	t.sessions[s.key] = s
	metrics.ActiveCalls.Inc()
}

// 发起新呼叫前的忙检查：自己发起的在途会话（哪怕还在 Ringing）
// 就挡住第二次发起；Active 会话则主叫、被叫、群呼参与者都算忙。
func (t *Table) callerBusyLocked(userID string) bool {
	for _, s := range t.sessions {
		if s.caller == userID {
			return true
		}
		if s.status != Active {
			continue
		}
		if s.kind == Direct && s.key == userID {
			return true
		}
		if s.kind == Group {
			if _, ok := s.accepted[userID]; ok {
				return true
			}
		}
	}
	return false
}

// PlaceDirect 创建被叫键上的 Ringing 会话。同一主叫的重复呼叫返回
// ErrAlreadyRinging（调用方静默处理，等同幂等重试）。
func (t *Table) PlaceDirect(callee, caller, originConn string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[callee]; ok {
		if s.caller == caller {
			return ErrAlreadyRinging
		}
		return ErrCalleeBusy
	}
	if t.callerBusyLocked(caller) {
		return ErrCallerBusy
	}
	t.insertLocked(&session{
		key:        callee,
		caller:     caller,
		kind:       Direct,
		status:     Ringing,
		originConn: originConn,
	})
	return nil
}

// PlaceGroup 创建以 group_id 为键的群呼会话并记录受邀集合。
func (t *Table) PlaceGroup(groupID, caller, originConn string, invited []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[groupID]; ok {
		return ErrGroupCallExists
	}
	if t.callerBusyLocked(caller) {
		return ErrCallerBusy
	}
	inv := make(map[string]struct{}, len(invited))
	for _, m := range invited {
		inv[m] = struct{}{}
	}
	t.insertLocked(&session{
		key:        groupID,
		caller:     caller,
		kind:       Group,
		status:     Ringing,
		originConn: originConn,
		invited:    inv,
		accepted:   make(map[string]struct{}),
		declined:   make(map[string]struct{}),
	})
	return nil
}

// AttachTimer 把定时器挂到仍在 Ringing 且主叫未变的会话上。
// 返回 false 表示会话已经变迁，调用方应 Stop 定时器。
func (t *Table) AttachTimer(key, caller string, timer *time.Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok || s.caller != caller || s.status != Ringing {
		return false
	}
	s.timer = timer
	return true
}

// ExpireResult 是响铃超时命中后调用方通知所需的信息。
type ExpireResult struct {
	Kind       Kind
	OriginConn string
	Invited    []string
}

// Expire 在定时器触发时重新校验：会话仍存在、仍在 Ringing、主叫未变
// 才移除。与 accept/reject/cancel 竞争时输掉即为空操作。
func (t *Table) Expire(key, caller string) (ExpireResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok || s.status != Ringing || s.caller != caller {
		return ExpireResult{}, false
	}
	res := ExpireResult{Kind: s.kind, OriginConn: s.originConn, Invited: sortedSet(s.invited)}
	t.removeLocked(key)
	return res, true
}

// AcceptResult：AlreadyActive 表示同一被叫的另一个 tab 已经接了。
type AcceptResult struct {
	OriginConn    string
	AlreadyActive bool
}

func (t *Table) Accept(callee, caller string) (AcceptResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[callee]
	if !ok || s.kind != Direct {
		return AcceptResult{}, ErrNoSession
	}
	if s.caller != caller {
		return AcceptResult{}, ErrCallerMismatch
	}
	if s.status == Active {
		return AcceptResult{OriginConn: s.originConn, AlreadyActive: true}, nil
	}
	s.status = Active
	if s.timer != nil {
		s.timer.Stop()
	}
	return AcceptResult{OriginConn: s.originConn}, nil
}

// Reject 只对 Ringing 会话有效，移除并返回主叫的发起连接。
func (t *Table) Reject(callee, caller string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[callee]
	if !ok || s.kind != Direct || s.caller != caller || s.status != Ringing {
		return "", ErrNoSession
	}
	origin := s.originConn
	t.removeLocked(callee)
	return origin, nil
}

// Cancel 由主叫撤回仍在 Ringing 的呼叫。
func (t *Table) Cancel(caller, callee string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[callee]
	if !ok || s.kind != Direct || s.caller != caller || s.status != Ringing {
		return false
	}
	t.removeLocked(callee)
	return true
}

type CutResult struct {
	Callee string
	Caller string
}

// Cut 结束 Active 的 1:1 通话，from/to 主被叫方向任意。
func (t *Table) Cut(a, b string) (CutResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[a]; ok && s.kind == Direct && s.status == Active && s.caller == b {
		t.removeLocked(a)
		return CutResult{Callee: a, Caller: b}, nil
	}
	if s, ok := t.sessions[b]; ok && s.kind == Direct && s.status == Active && s.caller == a {
		t.removeLocked(b)
		return CutResult{Callee: b, Caller: a}, nil
	}
	return CutResult{}, ErrNoSession
}

// GroupAcceptResult.Participants = 主叫 + 已接受者（含新加入者）。
type GroupAcceptResult struct {
	Already      bool
	Participants []string
}

// GroupAccept 幂等：重复接受、主叫自己、未受邀者都按空操作处理，
// 保证 accepted ⊆ invited。
func (t *Table) GroupAccept(groupID, userID string) (GroupAcceptResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[groupID]
	if !ok || s.kind != Group {
		return GroupAcceptResult{}, ErrNoSession
	}
	if userID == s.caller {
		return GroupAcceptResult{Already: true}, nil
	}
	if _, ok := s.accepted[userID]; ok {
		return GroupAcceptResult{Already: true}, nil
	}
	if _, ok := s.invited[userID]; !ok {
		return GroupAcceptResult{Already: true}, nil
	}
	delete(s.declined, userID)
	s.accepted[userID] = struct{}{}
	if s.status == Ringing {
		s.status = Active
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	return GroupAcceptResult{Participants: t.participantsLocked(s)}, nil
}

type GroupRejectResult struct {
	AllDeclined  bool
	Participants []string
}

// GroupReject 记录拒绝；当所有受邀者都已表态且无人接受时，
// 整个会话终结（"all declined"）。
func (t *Table) GroupReject(groupID, userID string) (GroupRejectResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[groupID]
	if !ok || s.kind != Group {
		return GroupRejectResult{}, ErrNoSession
	}
	if userID == s.caller {
		return GroupRejectResult{}, nil
	}
	if _, ok := s.accepted[userID]; ok {
		return GroupRejectResult{}, nil
	}
	if _, ok := s.invited[userID]; !ok {
		return GroupRejectResult{}, nil
	}
	s.declined[userID] = struct{}{}

	responded := len(s.accepted) + len(s.declined)
	if len(s.accepted) == 0 && responded >= len(s.invited) {
		res := GroupRejectResult{AllDeclined: true, Participants: t.participantsLocked(s)}
		t.removeLocked(groupID)
		return res, nil
	}
	return GroupRejectResult{}, nil
}

type GroupCutResult struct {
	Ended     bool
	IsCaller  bool
	Remaining []string
}

// GroupCut：主叫挂断或最后一个已接受者离开都会终结整个会话。
func (t *Table) GroupCut(groupID, userID string) (GroupCutResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[groupID]
	if !ok || s.kind != Group {
		return GroupCutResult{}, ErrNoSession
	}
	isCaller := userID == s.caller
	if !isCaller {
		if _, ok := s.accepted[userID]; !ok {
			return GroupCutResult{}, ErrNotParticipant
		}
		delete(s.accepted, userID)
	}
	if isCaller || len(s.accepted) == 0 {
		t.removeLocked(groupID)
		return GroupCutResult{Ended: true, IsCaller: isCaller}, nil
	}
	return GroupCutResult{Remaining: t.participantsLocked(s)}, nil
}

// ── 断线清理 ──

type RemovedDirect struct {
	Caller string
	Callee string
}

// RemoveCallee 移除以该用户为被叫键的 1:1 会话（任意状态）。
func (t *Table) RemoveCallee(userID string) (RemovedDirect, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[userID]
	if !ok || s.kind != Direct {
		return RemovedDirect{}, false
	}
	res := RemovedDirect{Caller: s.caller, Callee: userID}
	t.removeLocked(userID)
	return res, true
}

// RemoveDirectCaller 移除该用户作为主叫的 1:1 会话。
func (t *Table) RemoveDirectCaller(userID string) (RemovedDirect, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, s := range t.sessions {
		if s.kind == Direct && s.caller == userID {
			res := RemovedDirect{Caller: userID, Callee: key}
			t.removeLocked(key)
			return res, true
		}
	}
	return RemovedDirect{}, false
}

type RemovedGroup struct {
	GroupID string
	Invited []string
}

// RemoveGroupCaller 移除该用户发起的群呼会话。
func (t *Table) RemoveGroupCaller(userID string) (RemovedGroup, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, s := range t.sessions {
		if s.kind == Group && s.caller == userID {
			res := RemovedGroup{GroupID: key, Invited: sortedSet(s.invited)}
			t.removeLocked(key)
			return res, true
		}
	}
	return RemovedGroup{}, false
}

type GroupLeaveResult struct {
	GroupID   string
	Ended     bool
	Remaining []string
}

// GroupLeave 把断线用户从其参与的群呼中摘除；
// 已接受集合清空则整个会话随之移除。
func (t *Table) GroupLeave(userID string) (GroupLeaveResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, s := range t.sessions {
		if s.kind != Group || s.caller == userID {
			continue
		}
		if _, ok := s.accepted[userID]; !ok {
			continue
		}
		delete(s.accepted, userID)
		remaining := t.participantsLocked(s)
		if len(s.accepted) == 0 {
			t.removeLocked(key)
			return GroupLeaveResult{GroupID: key, Ended: true, Remaining: remaining}, true
		}
		return GroupLeaveResult{GroupID: key, Remaining: remaining}, true
	}
	return GroupLeaveResult{}, false
}

// ── 只读辅助 ──

func (t *Table) Has(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[key]
	return ok
}

func (t *Table) StatusOf(key string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[key]
	if !ok {
		return 0, false
	}
	return s.status, true
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Table) participantsLocked(s *session) []string {
	out := make([]string, 0, len(s.accepted)+1)
	out = append(out, s.caller)
	for m := range s.accepted {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

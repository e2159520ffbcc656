package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"signalhub/internal/call"
	"signalhub/internal/chat"
	"signalhub/internal/group"
	"signalhub/internal/presence"
	"signalhub/internal/push"
)

type sentEvent struct {
	ConnID  string
	Event   string
	Payload any
}

// fakeSender records every outbound event in order.
type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
	dead   map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{dead: make(map[string]bool)}
}

func (f *fakeSender) Send(connID, event string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead[connID] {
		return false
	}
	f.events = append(f.events, sentEvent{ConnID: connID, Event: event, Payload: payload})
	return true
}

func (f *fakeSender) Alive(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[connID]
}

func (f *fakeSender) kill(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[connID] = true
}

func (f *fakeSender) eventsFor(connID string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.events {
		if e.ConnID == connID {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeSender) count(connID, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.ConnID == connID && e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// lastError returns the message of the most recent error event on a connection.
func (f *fakeSender) lastError(connID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		e := f.events[i]
		if e.ConnID == connID && e.Event == EvError {
			return e.Payload.(ErrorPayload).Message
		}
	}
	return ""
}

// reasons collects call_ended / group_call_ended reasons seen by a connection.
func (f *fakeSender) reasons(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.ConnID != connID {
			continue
		}
		switch p := e.Payload.(type) {
		case ReasonPayload:
			out = append(out, p.Reason)
		case GroupEndPayload:
			out = append(out, p.Reason)
		}
	}
	return out
}

type pushRecord struct {
	Token string
	Data  map[string]string
}

// fakePush records dispatches; tokens listed in invalid report permanent
// failure, tokens listed in flaky report transient failure.
type fakePush struct {
	mu      sync.Mutex
	sent    []pushRecord
	invalid map[string]bool
	flaky   map[string]bool
}

func newFakePush() *fakePush {
	return &fakePush{invalid: make(map[string]bool), flaky: make(map[string]bool)}
}

func (f *fakePush) Send(_ context.Context, token string, data map[string]string) push.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pushRecord{Token: token, Data: data})
	if f.invalid[token] {
		return push.Invalid
	}
	if f.flaky[token] {
		return push.Transient
	}
	return push.Delivered
}

func (f *fakePush) records() []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pushRecord, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestHandler(ring time.Duration) (*Handler, *fakeSender, *fakePush) {
	fs := newFakeSender()
	fp := newFakePush()
	h := NewHandler(presence.NewRegistry(), group.NewRegistry(), call.NewTable(),
		chat.NewLog(), fs, fp, ring)
	return h, fs, fp
}

func mustRegister(h *Handler, connID, userID string) {
	h.Register(connID, RegisterPayload{UserID: userID})
}

func TestRegister_EmptyName(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)

	h.Register("c1", RegisterPayload{UserID: "   "})

	if fs.count("c1", EvRegisterError) != 1 {
		t.Fatal("expected a register_error event")
	}
	if fs.count("c1", EvRegistered) != 0 {
		t.Error("registered ack sent despite empty name")
	}
}

func TestRegister_ReplayOrdering(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)
	mustRegister(h, "c1", "alice")
	mustRegister(h, "c2", "bob")

	g := h.groups.Create("team", "alice", []string{"bob"})
	h.msgs.Append(chat.DMKey("alice", "bob"), "alice", "bob", "hi")
	h.msgs.Append(chat.GroupKey(g.GroupID), "bob", g.GroupID, "yo")

	// Alice reconnects on a fresh tab: full replay in fixed order.
	fs.reset()
	mustRegister(h, "c3", "alice")

	events := fs.eventsFor("c3")
	wantOrder := []string{EvUserList, EvGroupCreated, EvMessageHistory, EvMessageHistory, EvRegistered}
	if len(events) != len(wantOrder) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantOrder), events)
	}
	for i, want := range wantOrder {
		if events[i].Event != want {
			t.Errorf("event[%d] = %s, want %s", i, events[i].Event, want)
		}
	}

	// Snapshot excludes the registering user.
	users := events[0].Payload.(UserListPayload).Users
	if len(users) != 1 || users[0].UserID != "bob" {
		t.Errorf("user_list = %+v, want only bob", users)
	}

	// DM history comes before the group history.
	if key := events[2].Payload.(chat.History).ConversationKey; key != chat.DMKey("alice", "bob") {
		t.Errorf("first history key = %s, want the DM conversation", key)
	}

	// Others are told alice came online; alice's own tabs are not.
	if fs.count("c2", EvUserOnline) != 1 {
		t.Errorf("bob got %d user_online, want 1", fs.count("c2", EvUserOnline))
	}
	if fs.count("c1", EvUserOnline) != 0 || fs.count("c3", EvUserOnline) != 0 {
		t.Error("alice's own tabs received user_online about herself")
	}
}

func TestRegister_ReservedSeparatorRejected(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)

	h.Register("c1", RegisterPayload{UserID: "a::b"})

	if fs.count("c1", EvRegisterError) != 1 {
		t.Fatal("expected a register_error for a name containing '::'")
	}
	if h.users.Known("a::b") {
		t.Error("user with reserved separator was created")
	}

	// The same rule guards the token path, which can also create users.
	h.StoreToken("c1", StoreTokenPayload{UserID: "a::b", Token: "tok"})
	if fs.count("c1", EvError) != 1 {
		t.Error("store_token accepted a name containing '::'")
	}
	if h.users.Known("a::b") {
		t.Error("token store created a user with reserved separator")
	}
}

func TestRegister_ConnectionCannotSwitchUser(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)
	mustRegister(h, "c1", "alice")
	fs.reset()

	h.Register("c1", RegisterPayload{UserID: "bob"})

	if fs.count("c1", EvRegisterError) != 1 {
		t.Fatal("expected a register_error when re-registering as another user")
	}
	if h.users.Known("bob") {
		t.Error("bob was created from an already-bound connection")
	}
	if owner, _ := h.users.OwnerOf("c1"); owner != "alice" {
		t.Errorf("OwnerOf(c1) = %q, want alice", owner)
	}

	// Re-registering as the same user refreshes the replay and is allowed.
	fs.reset()
	h.Register("c1", RegisterPayload{UserID: "alice"})
	if fs.count("c1", EvRegistered) != 1 {
		t.Error("same-user re-register was refused")
	}
}

func TestRegister_SecondTabAllowed(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)
	mustRegister(h, "c1", "alice")
	mustRegister(h, "c2", "alice")

	if fs.count("c2", EvRegistered) != 1 {
		t.Error("second tab was not acked")
	}
	if got := len(h.users.ConnIDs("alice")); got != 2 {
		t.Errorf("alice has %d connections, want 2", got)
	}
}

func TestStoreToken(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)

	h.StoreToken("c1", StoreTokenPayload{UserID: "alice", Token: "tok1"})
	if got := h.users.Tokens("alice"); len(got) != 1 || got[0] != "tok1" {
		t.Errorf("Tokens() = %v, want [tok1]", got)
	}

	h.StoreToken("c1", StoreTokenPayload{UserID: "alice", Token: ""})
	if fs.count("c1", EvError) != 1 {
		t.Error("empty token was not rejected")
	}
}

func TestHandleFrame_Dispatch(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)

	h.HandleFrame("c1", []byte(`{"type":"register","data":{"user_id":"alice"}}`))
	if fs.count("c1", EvRegistered) != 1 {
		t.Error("register frame was not dispatched")
	}

	h.HandleFrame("c1", []byte(`not json`))
	if fs.lastError("c1") != "Invalid message format" {
		t.Errorf("lastError = %q, want invalid format", fs.lastError("c1"))
	}

	h.HandleFrame("c1", []byte(`{"type":"teleport","data":{}}`))
	if fs.lastError("c1") != "Unknown action: teleport" {
		t.Errorf("lastError = %q, want unknown action", fs.lastError("c1"))
	}
}

func TestIdentityMismatch(t *testing.T) {
	h, fs, _ := newTestHandler(time.Minute)
	mustRegister(h, "c1", "alice")
	mustRegister(h, "c2", "bob")

	// c2 belongs to bob, so it cannot speak as alice.
	h.Call("c2", PeerPayload{From: "alice", To: "bob"})
	if fs.lastError("c2") != "Identity mismatch" {
		t.Errorf("lastError = %q, want identity mismatch", fs.lastError("c2"))
	}
	if fs.count("c2", EvIncomingCall) != 0 && fs.count("c1", EvIncomingCall) != 0 {
		t.Error("call proceeded despite identity mismatch")
	}
}

func TestTruncatePreview(t *testing.T) {
	short := "hello"
	if got := truncatePreview(short); got != short {
		t.Errorf("truncatePreview(short) = %q, want unchanged", got)
	}

	long := make([]rune, 300)
	for i := range long {
		long[i] = '好'
	}
	got := truncatePreview(string(long))
	if gotLen := len([]rune(got)); gotLen != 200 {
		t.Errorf("truncated preview rune length = %d, want 200", gotLen)
	}
}

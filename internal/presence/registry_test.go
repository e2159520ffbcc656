package presence

import (
	"testing"
)

func TestRegister_FirstConnection(t *testing.T) {
	r := NewRegistry()

	already := r.Register("alice", "c1")
	if already {
		t.Error("Register() first connection reported alreadyOnline = true, want false")
	}
	if !r.IsOnline("alice") {
		t.Error("IsOnline() = false after register, want true")
	}
	if !r.Owns("alice", "c1") {
		t.Error("Owns() = false for registered connection, want true")
	}
}

func TestRegister_SecondTab(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")

	already := r.Register("alice", "c2")
	if !already {
		t.Error("Register() second tab reported alreadyOnline = false, want true")
	}
	if got := len(r.ConnIDs("alice")); got != 2 {
		t.Errorf("ConnIDs() len = %d, want 2", got)
	}
}

func TestRegister_DuplicateConnID(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("alice", "c1")

	if got := len(r.ConnIDs("alice")); got != 1 {
		t.Errorf("ConnIDs() len after duplicate register = %d, want 1", got)
	}
}

func TestRemoveConn_LastTabGoesOffline(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("alice", "c2")

	offline := r.RemoveConn("alice", "c1", nil)
	if offline {
		t.Error("RemoveConn() with one tab left reported offline = true, want false")
	}

	offline = r.RemoveConn("alice", "c2", nil)
	if !offline {
		t.Error("RemoveConn() removing last tab reported offline = false, want true")
	}
	if !r.Known("alice") {
		t.Error("Known() = false after offline, want true (identity is never forgotten)")
	}
}

func TestRemoveConn_PrunesStaleConnections(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("alice", "c2")
	r.Register("alice", "c3")

	// c2 is a zombie left behind by a reconnect race: the alive callback
	// says it no longer exists, so removing c1 must prune it too.
	alive := func(id string) bool { return id == "c3" }
	offline := r.RemoveConn("alice", "c1", alive)
	if offline {
		t.Error("RemoveConn() reported offline = true while c3 is alive")
	}
	if got := len(r.ConnIDs("alice")); got != 1 {
		t.Errorf("ConnIDs() len after pruning = %d, want 1", got)
	}
}

func TestTokens_IdempotentAddAndRemove(t *testing.T) {
	r := NewRegistry()

	if got := r.AddToken("alice", "tok1"); got != 1 {
		t.Errorf("AddToken() = %d, want 1", got)
	}
	if got := r.AddToken("alice", "tok1"); got != 1 {
		t.Errorf("AddToken() duplicate = %d, want 1", got)
	}
	if got := r.AddToken("alice", "tok2"); got != 2 {
		t.Errorf("AddToken() second token = %d, want 2", got)
	}

	if !r.RemoveToken("alice", "tok1") {
		t.Error("RemoveToken() = false for stored token, want true")
	}
	if r.RemoveToken("alice", "tok1") {
		t.Error("RemoveToken() = true for already removed token, want false")
	}
	if got := len(r.Tokens("alice")); got != 1 {
		t.Errorf("Tokens() len = %d, want 1", got)
	}
}

func TestTokens_SurviveOffline(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.AddToken("alice", "tok1")
	r.RemoveConn("alice", "c1", nil)

	if got := len(r.Tokens("alice")); got != 1 {
		t.Errorf("Tokens() len after offline = %d, want 1", got)
	}
}

func TestAddToken_BeforeRegister(t *testing.T) {
	r := NewRegistry()
	r.AddToken("bob", "tok1")

	if !r.Known("bob") {
		t.Error("Known() = false after AddToken, want true")
	}
	if r.IsOnline("bob") {
		t.Error("IsOnline() = true for token-only user, want false")
	}
}

func TestOwnerOf(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("bob", "c2")

	owner, ok := r.OwnerOf("c2")
	if !ok || owner != "bob" {
		t.Errorf("OwnerOf(c2) = %q, %v, want bob, true", owner, ok)
	}
	if _, ok := r.OwnerOf("nope"); ok {
		t.Error("OwnerOf() = true for unknown connection, want false")
	}
}

func TestSnapshot_ExcludesSelfAndSorts(t *testing.T) {
	r := NewRegistry()
	r.Register("carol", "c3")
	r.Register("alice", "c1")
	r.AddToken("bob", "tok") // known but offline

	entries := r.Snapshot("carol")
	if len(entries) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(entries))
	}
	if entries[0].UserID != "alice" || entries[1].UserID != "bob" {
		t.Errorf("Snapshot() order = %s, %s, want alice, bob", entries[0].UserID, entries[1].UserID)
	}
	if !entries[0].IsOnline {
		t.Error("Snapshot() alice.IsOnline = false, want true")
	}
	if entries[1].IsOnline {
		t.Error("Snapshot() bob.IsOnline = true, want false")
	}
}

func TestConnsExcept(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("alice", "c2")
	r.Register("bob", "c3")

	conns := r.ConnsExcept("alice")
	if len(conns) != 1 || conns[0] != "c3" {
		t.Errorf("ConnsExcept(alice) = %v, want [c3]", conns)
	}
}

package runtime

import "testing"

func TestCancelToken_Lifecycle(t *testing.T) {
	token := NewCancelToken()
	if token.Cancelled() {
		t.Fatal("new token should not be cancelled")
	}
	token.Cancel()
	if !token.Cancelled() {
		t.Fatal("token should be cancelled after Cancel()")
	}
}

func TestCancelMap_RegisterAndCancel(t *testing.T) {
	m := NewCancelMap()

	token := m.Register("s1")
	if token.Cancelled() {
		t.Fatal("freshly registered token should not be cancelled")
	}
	if !m.IsRunning("s1") {
		t.Fatal("IsRunning(s1) should be true after Register")
	}

	if !m.Cancel("s1") {
		t.Fatal("Cancel(s1) should return true")
	}
	if !token.Cancelled() {
		t.Fatal("token should be cancelled after CancelMap.Cancel")
	}

	m.Remove("s1")
	if m.IsRunning("s1") {
		t.Fatal("IsRunning(s1) should be false after Remove")
	}
	if m.Cancel("s1") {
		t.Fatal("Cancel(s1) should return false once removed")
	}
}

package presence

import (
	"errors"
	"slices"
	"testing"

	"github.com/matheus3301/wppsync/internal/validate"
)

func TestUntrackedIsOffline(t *testing.T) {
	r := NewRepository()
	if err := r.SetOnlineStatus("a", true); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"b", "c@s.whatsapp.net", "", "A"} {
		if r.IsOnline(id) {
			t.Errorf("IsOnline(%q) = true for untracked id", id)
		}
		if r.IsTracked(id) {
			t.Errorf("IsTracked(%q) = true for untracked id", id)
		}
	}
}

func TestSetOnlineStatusUpsert(t *testing.T) {
	r := NewRepository()
	if err := r.SetOnlineStatus("a", true); err != nil {
		t.Fatal(err)
	}
	if !r.IsOnline("a") {
		t.Error("IsOnline(a) = false, want true")
	}
	if err := r.SetOnlineStatus("a", false); err != nil {
		t.Fatal(err)
	}
	if r.IsOnline("a") {
		t.Error("IsOnline(a) = true after setting offline")
	}
	if !r.IsTracked("a") {
		t.Error("tracked and offline must still be tracked")
	}
}

func TestBulkWithReset(t *testing.T) {
	r := NewRepository()
	if err := r.SetOnlineStatus("b", true); err != nil {
		t.Fatal(err)
	}
	if err := r.SetBulkOnlineStatus(map[string]bool{"a": true}, true); err != nil {
		t.Fatal(err)
	}
	if !r.IsOnline("a") {
		t.Error("IsOnline(a) = false, want true")
	}
	if r.IsOnline("b") {
		t.Error("IsOnline(b) = true, want false (reset before snapshot)")
	}
	if !r.IsTracked("b") {
		t.Error("b should remain tracked after reset")
	}
}

func TestBulkWithoutReset(t *testing.T) {
	r := NewRepository()
	if err := r.SetOnlineStatus("b", true); err != nil {
		t.Fatal(err)
	}
	if err := r.SetBulkOnlineStatus(map[string]bool{"a": false}, false); err != nil {
		t.Fatal(err)
	}
	if !r.IsOnline("b") {
		t.Error("IsOnline(b) = false, want unchanged true without reset")
	}
	if r.IsOnline("a") || !r.IsTracked("a") {
		t.Error("a should be tracked and offline")
	}
}

func TestBulkRejectsInvalidWithoutMutation(t *testing.T) {
	r := NewRepository()
	if err := r.SetOnlineStatus("b", true); err != nil {
		t.Fatal(err)
	}
	err := r.SetBulkOnlineStatus(map[string]bool{"a": true, "": true}, true)
	if !errors.Is(err, validate.ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if !r.IsOnline("b") {
		t.Error("b was reset even though the bulk call failed validation")
	}
	if r.IsTracked("a") {
		t.Error("a was inserted even though the bulk call failed validation")
	}
}

func TestInvalidIDs(t *testing.T) {
	r := NewRepository()
	if err := r.SetOnlineStatus("", true); !errors.Is(err, validate.ErrInvalidArgument) {
		t.Errorf("SetOnlineStatus(\"\") error = %v, want ErrInvalidArgument", err)
	}
	if err := r.Remove(""); !errors.Is(err, validate.ErrInvalidArgument) {
		t.Errorf("Remove(\"\") error = %v, want ErrInvalidArgument", err)
	}
	if len(r.TrackedIDs()) != 0 {
		t.Error("invalid calls must not create entries")
	}
}

func TestTrackedIDsRemoveResetClear(t *testing.T) {
	r := NewRepository()
	_ = r.SetBulkOnlineStatus(map[string]bool{"c": true, "a": true, "b": false}, false)

	if got := r.TrackedIDs(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("TrackedIDs() = %v, want [a b c]", got)
	}

	if err := r.Remove("c"); err != nil {
		t.Fatal(err)
	}
	if r.IsTracked("c") {
		t.Error("c still tracked after Remove")
	}

	r.ResetAll()
	for id, online := range r.Snapshot() {
		if online {
			t.Errorf("%s online after ResetAll", id)
		}
	}
	if len(r.TrackedIDs()) != 2 {
		t.Errorf("ResetAll must keep entries, got %v", r.TrackedIDs())
	}

	r.Clear()
	if len(r.TrackedIDs()) != 0 {
		t.Errorf("TrackedIDs() after Clear = %v, want empty", r.TrackedIDs())
	}
}

package prefs

import "testing"

func TestStoreScopes(t *testing.T) {
	s := NewStore()
	s.Set("u1", "", "coder")
	s.Set("u1", "g1", "writer")

	if id, ok := s.Get("u1", ""); !ok || id != "coder" {
		t.Fatalf("private = %q, %v", id, ok)
	}
	if id, ok := s.Get("u1", "g1"); !ok || id != "writer" {
		t.Fatalf("group = %q, %v", id, ok)
	}
	if _, ok := s.Get("u1", "g2"); ok {
		t.Fatal("unset scope must miss")
	}
	if _, ok := s.Get("u2", ""); ok {
		t.Fatal("unknown user must miss")
	}
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	s.Set("u1", "g1", "coder")

	if !s.Clear("u1", "g1") {
		t.Fatal("Clear must report an existing preference")
	}
	if s.Clear("u1", "g1") {
		t.Fatal("second Clear must report nothing to remove")
	}
	if _, ok := s.Get("u1", "g1"); ok {
		t.Fatal("cleared preference must miss")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	s.Set("u1", "", "coder")
	s.Set("u1", "g1", "writer")
	s.Set("u2", "g1", "coder")

	blob, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	restored := NewStore()
	if err := restored.Restore(blob); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct{ user, group, want string }{
		{"u1", "", "coder"},
		{"u1", "g1", "writer"},
		{"u2", "g1", "coder"},
	} {
		if id, ok := restored.Get(tc.user, tc.group); !ok || id != tc.want {
			t.Fatalf("(%s,%s) = %q, %v; want %q", tc.user, tc.group, id, ok, tc.want)
		}
	}
}

func TestRestoreEmptyResets(t *testing.T) {
	s := NewStore()
	s.Set("u1", "", "coder")
	if err := s.Restore(nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("u1", ""); ok {
		t.Fatal("nil restore must reset the store")
	}
}

func TestRestoreBadBlob(t *testing.T) {
	s := NewStore()
	if err := s.Restore([]byte("{broken")); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

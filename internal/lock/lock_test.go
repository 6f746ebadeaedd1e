package lock

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "a.db")

	l, err := Acquire(archive)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(archive + ".lock"); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(archive + ".lock"); !os.IsNotExist(err) {
		t.Error("lock file not removed on release")
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "a.db")

	l1, err := Acquire(archive)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Release(); err != nil {
		t.Fatal(err)
	}
	l2, err := Acquire(archive)
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil release returned %v", err)
	}
	var p *PairLock
	if err := p.Release(); err != nil {
		t.Errorf("nil pair release returned %v", err)
	}
}

func TestAcquirePairSamePath(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "a.db")

	p, err := AcquirePair(archive, archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.locks) != 1 {
		t.Errorf("same-path pair took %d locks, want 1", len(p.locks))
	}
	_ = p.Release()
}

func TestAcquirePairOrdersByPath(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.db")
	b := filepath.Join(dir, "b.db")

	// Regardless of argument order, the lexically first path is locked
	// first; both orders must succeed and fully release.
	p1, err := AcquirePair(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if err := p1.Release(); err != nil {
		t.Fatal(err)
	}
	p2, err := AcquirePair(a, b)
	if err != nil {
		t.Fatal(err)
	}
	_ = p2.Release()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/unstack/pkg/bytecode"
	"github.com/chazu/unstack/pkg/decompile"
	"github.com/chazu/unstack/pkg/wire"
)

const source = `
method Example.newOperator locals=2
    new java/lang/String
    dup
    const "foobar"
    invoke java/lang/String <init> 1 recv void
    store 1
    return_void
end

method Example.broken
    invoke Example next 0
    dup
    invoke Example use 2 void
    return_void
end
`

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func decompileAll(t *testing.T) (*bytecode.Module, []decompile.Result) {
	t.Helper()
	m, err := bytecode.Assemble(source)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return m, decompile.All(context.Background(), m.Chunks)
}

func TestFingerprint(t *testing.T) {
	m, _ := decompileAll(t)

	a, err := Fingerprint(m.Chunks[0])
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	again, _ := Fingerprint(m.Chunks[0])
	if a != again {
		t.Errorf("Fingerprint not stable: %x != %x", a, again)
	}
	b, _ := Fingerprint(m.Chunks[1])
	if a == b {
		t.Errorf("different chunks share fingerprint %x", a)
	}

	m.Chunks[0].Code[len(m.Chunks[0].Code)-1] = byte(bytecode.OpNop)
	changed, _ := Fingerprint(m.Chunks[0])
	if changed == a {
		t.Error("fingerprint ignores code changes")
	}
}

func TestRecordAndLookup(t *testing.T) {
	s := openTemp(t)
	m, results := decompileAll(t)

	run, err := s.BeginRun()
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	for i, r := range results {
		fp, err := Fingerprint(m.Chunks[i])
		if err != nil {
			t.Fatalf("Fingerprint: %v", err)
		}
		if err := s.Record(run, fp, r); err != nil {
			t.Fatalf("Record(%s): %v", r.Name, err)
		}
	}

	fp, _ := Fingerprint(m.Find("Example.newOperator"))
	rec, err := s.Lookup("Example.newOperator", fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.RunID != run {
		t.Errorf("RunID = %q, want %q", rec.RunID, run)
	}
	if want := results[0].Sequence.String(); rec.Listing != want {
		t.Errorf("Listing = %q, want %q", rec.Listing, want)
	}

	l, err := wire.UnmarshalSequence(rec.Wire)
	if err != nil {
		t.Fatalf("UnmarshalSequence: %v", err)
	}
	seq, err := l.Sequence()
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if seq.String() != rec.Listing {
		t.Errorf("stored encoding decodes to %q, want %q", seq.String(), rec.Listing)
	}

	if _, err := s.Lookup("Example.newOperator", fp+1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup with other fingerprint: err = %v, want ErrNotFound", err)
	}
	brokenFP, _ := Fingerprint(m.Find("Example.broken"))
	if _, err := s.Lookup("Example.broken", brokenFP); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup of failed method: err = %v, want ErrNotFound", err)
	}
}

func TestFailures(t *testing.T) {
	s := openTemp(t)
	m, results := decompileAll(t)

	run, _ := s.BeginRun()
	for i, r := range results {
		fp, _ := Fingerprint(m.Chunks[i])
		if err := s.Record(run, fp, r); err != nil {
			t.Fatalf("Record(%s): %v", r.Name, err)
		}
	}

	got, err := s.Failures(run)
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	want := []Failure{{Name: "Example.broken", Error: results[1].Err.Error()}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Failures mismatch (-want +got):\n%s", diff)
	}

	other, _ := s.BeginRun()
	if other == run {
		t.Fatal("BeginRun returned the same id twice")
	}
	if got, _ := s.Failures(other); len(got) != 0 {
		t.Errorf("Failures(new run) = %v, want none", got)
	}
}

func TestSaveCarriesRecordForward(t *testing.T) {
	s := openTemp(t)
	m, results := decompileAll(t)
	fp, _ := Fingerprint(m.Chunks[0])

	first, _ := s.BeginRun()
	if err := s.Record(first, fp, results[0]); err != nil {
		t.Fatalf("Record: %v", err)
	}
	rec, err := s.Lookup(results[0].Name, fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	second, _ := s.BeginRun()
	if err := s.Save(second, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, err := s.Lookup(results[0].Name, fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if again.Listing != rec.Listing {
		t.Errorf("Listing = %q, want %q", again.Listing, rec.Listing)
	}
}

func TestUnknownRun(t *testing.T) {
	s := openTemp(t)
	_, results := decompileAll(t)

	if err := s.Record("no-such-run", 1, results[0]); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("Record: err = %v, want ErrUnknownRun", err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	m, results := decompileAll(t)
	fp, _ := Fingerprint(m.Chunks[0])

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run, _ := s.BeginRun()
	if err := s.Record(run, fp, results[0]); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Lookup(results[0].Name, fp); err != nil {
		t.Errorf("Lookup after reopen: %v", err)
	}
}

func TestLookupIgnoresOtherVersions(t *testing.T) {
	s := openTemp(t)
	m, results := decompileAll(t)
	fp, _ := Fingerprint(m.Chunks[0])

	s.version = "0.0"
	old, _ := s.BeginRun()
	if err := s.Record(old, fp, results[0]); err != nil {
		t.Fatalf("Record: %v", err)
	}

	s.version = CurrentVersion
	if _, err := s.Lookup(results[0].Name, fp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup of result from older version: err = %v, want ErrNotFound", err)
	}

	run, _ := s.BeginRun()
	if err := s.Record(run, fp, results[0]); err != nil {
		t.Fatalf("Record: %v", err)
	}
	rec, err := s.Lookup(results[0].Name, fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.RunID != run {
		t.Errorf("RunID = %q, want %q", rec.RunID, run)
	}
}

func TestOpenAddsVersionColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	m, results := decompileAll(t)
	fp, _ := Fingerprint(m.Chunks[0])

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE runs (id TEXT PRIMARY KEY, started_at INTEGER NOT NULL)",
		`CREATE TABLE methods (run_id TEXT NOT NULL, name TEXT NOT NULL, fingerprint TEXT NOT NULL,
			status TEXT NOT NULL, listing TEXT NOT NULL DEFAULT '', wire BLOB,
			error TEXT NOT NULL DEFAULT '', PRIMARY KEY (run_id, name))`,
		"INSERT INTO runs VALUES ('old', 1)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	_, err = db.Exec("INSERT INTO methods (run_id, name, fingerprint, status, listing) VALUES ('old', ?, ?, 'ok', 'stale')",
		results[0].Name, formatFingerprint(fp))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := s.Lookup(results[0].Name, fp); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup of unversioned result: err = %v, want ErrNotFound", err)
	}

	run, _ := s.BeginRun()
	if err := s.Record(run, fp, results[0]); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec, err := s.Lookup(results[0].Name, fp); err != nil || rec.Listing == "stale" {
		t.Errorf("Lookup after migration = %v, %v; want the new result", rec, err)
	}
}

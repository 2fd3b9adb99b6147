package migrations

import (
	"io/fs"
	"testing"
)

func TestEmbeddedMigrationsPaired(t *testing.T) {
	ups, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	downs, err := fs.Glob(FS, "*.down.sql")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	if len(ups) != len(downs) {
		t.Errorf("%d up migrations but %d down migrations", len(ups), len(downs))
	}
}

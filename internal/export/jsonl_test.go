package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/schema"
)

func openStore(t *testing.T, name string) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return store
}

func seed(t *testing.T, store *db.DB) {
	t.Helper()
	ctx := context.Background()
	records := []struct {
		collection string
		entity     schema.Entity
	}{
		{schema.CollectionThemes, &schema.Theme{ID: 1, Title: "Kanji", Updated: 100}},
		{schema.CollectionSubjects, &schema.Subject{ID: 10, Title: "water", ThemeID: 1, Updated: 101}},
		{schema.CollectionSubjects, &schema.Subject{ID: 11, Title: "fire", ThemeID: 1, Updated: 102}},
	}
	for _, r := range records {
		if err := store.Put(ctx, r.collection, r.entity); err != nil {
			t.Fatalf("failed to seed %s: %v", r.collection, err)
		}
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, "src.db")
	seed(t, src)

	var buf bytes.Buffer
	res, err := Export(ctx, src, &buf, Options{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if res.Total() != 3 {
		t.Errorf("expected 3 exported records, got %d", res.Total())
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}

	dst := openStore(t, "dst.db")
	res, err = Import(ctx, dst, bytes.NewReader(buf.Bytes()), Options{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Records[schema.CollectionSubjects] != 2 {
		t.Errorf("expected 2 subjects imported, got %d", res.Records[schema.CollectionSubjects])
	}

	got, ok, err := db.GetAs[*schema.Subject](ctx, dst, schema.CollectionSubjects, 11)
	if err != nil || !ok {
		t.Fatalf("subject 11 missing after import: ok=%v err=%v", ok, err)
	}
	if got.Title != "fire" || got.Updated != 102 {
		t.Errorf("unexpected subject: %+v", got)
	}
}

func TestExport_CollectionFilter(t *testing.T) {
	store := openStore(t, "filter.db")
	seed(t, store)

	var buf bytes.Buffer
	res, err := Export(context.Background(), store, &buf, Options{Collections: []string{schema.CollectionThemes}})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if res.Total() != 1 || res.Records[schema.CollectionThemes] != 1 {
		t.Errorf("unexpected result: %+v", res.Records)
	}
}

func TestImport_SkipsAndReplace(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "replace.db")
	seed(t, store)

	input := strings.Join([]string{
		`{"collection":"subjects","id":12,"updated":200,"data":{"id":12,"title":"earth","themeId":1,"updated":200}}`,
		`{"collection":"bookmarks","id":1,"updated":1,"data":{"id":1}}`,
		`{"collection":"themes","id":0,"updated":1,"data":{}}`,
	}, "\n")

	res, err := Import(ctx, store, strings.NewReader(input), Options{Replace: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", res.Skipped)
	}

	keys, err := store.GetAllKeys(ctx, schema.CollectionSubjects)
	if err != nil {
		t.Fatalf("GetAllKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != 12 {
		t.Errorf("expected only subject 12 after replace, got %v", keys)
	}

	// Themes were not imported so they were not cleared.
	if n, _ := store.Count(ctx, schema.CollectionThemes); n != 1 {
		t.Errorf("expected themes untouched, got %d", n)
	}
}

func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "dry.db")
	input := `{"collection":"themes","id":5,"updated":1,"data":{"id":5,"title":"x","updated":1}}`

	res, err := Import(ctx, store, strings.NewReader(input), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Total() != 1 {
		t.Errorf("expected 1 counted record, got %d", res.Total())
	}
	if n, _ := store.Count(ctx, schema.CollectionThemes); n != 0 {
		t.Errorf("dry run wrote %d records", n)
	}
}

func TestImport_InvalidJSON(t *testing.T) {
	store := openStore(t, "bad.db")
	_, err := Import(context.Background(), store, strings.NewReader("{not json}\n"), Options{})
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Errorf("error should name the line: %v", err)
	}
}

func TestExportFile_Atomic(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "file.db")
	seed(t, store)

	path := filepath.Join(t.TempDir(), "out", "cache.jsonl")
	if _, err := ExportFile(ctx, store, path, Options{}); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	dst := openStore(t, "file-dst.db")
	res, err := ImportFile(ctx, dst, path, Options{})
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if res.Total() != 3 {
		t.Errorf("expected 3 records, got %d", res.Total())
	}

	if _, err := ImportFile(ctx, dst, filepath.Join(t.TempDir(), "missing.jsonl"), Options{}); err == nil {
		t.Error("expected error for missing file")
	}
}

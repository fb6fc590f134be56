package reload

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/timzifer/vedirect/config"
)

func TestUniquePathsFiltersDuplicatesAndEmptyValues(t *testing.T) {
	paths := []string{"", "/tmp/a", "/tmp/b", "/tmp/a", "\t", "/tmp/c", "/tmp/b"}
	got := uniquePaths(paths)
	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("uniquePaths() = %v, want %v", got, want)
	}
}

func TestWatcherTracksConfigModulesAndRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "vedirect.yaml")
	module := filepath.Join(dir, "shunt.yaml")
	writeFile(t, root, "modules: [shunt.yaml]\n")
	writeFile(t, module, "devices: []\n")

	cfg := &config.Config{
		Source:  config.ModuleReference{File: root},
		Devices: []config.DeviceConfig{{ID: "shunt", Source: config.ModuleReference{File: module}}},
	}

	var watcher Watcher
	if err := watcher.Update(root, cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if watcher.Tracked() != 2 {
		t.Fatalf("expected 2 tracked files, got %d", watcher.Tracked())
	}
	if _, ok := watcher.files[module]; !ok {
		t.Fatalf("module file %s not tracked", module)
	}
}

func TestWatcherSkipsMissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	cfg := &config.Config{Source: config.ModuleReference{File: missing}}

	var watcher Watcher
	if err := watcher.Update("", cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if watcher.Tracked() != 0 {
		t.Fatalf("expected 0 tracked files, got %d", watcher.Tracked())
	}
}

func TestWatcherCheckDetectsChangesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.yaml")
	fileB := filepath.Join(dir, "b.yaml")
	writeFile(t, fileA, "first")
	writeFile(t, fileB, "second")

	cfg := &config.Config{Files: []string{fileA, fileB}}
	watcher, err := NewWatcher("", cfg)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	} else if len(changed) != 0 {
		t.Fatalf("expected no changes on first check, got %v", changed)
	}

	time.Sleep(10 * time.Millisecond)
	writeFile(t, fileA, "first-UPDATED")
	if err := os.Remove(fileB); err != nil {
		t.Fatalf("Remove(%s) error = %v", fileB, err)
	}

	changed, err := watcher.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !reflect.DeepEqual(changed, []string{fileA, fileB}) {
		t.Fatalf("Check() = %v, want %v", changed, []string{fileA, fileB})
	}
}

func TestWatcherDetectsNewFileInRootDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "10-base.yaml"), "logging: {level: info}\n")

	watcher, err := NewWatcher(dir, &config.Config{})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	past := time.Now().Add(-time.Minute)
	if err := os.Chtimes(dir, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	if err := watcher.Update(dir, &config.Config{}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	writeFile(t, filepath.Join(dir, "20-devices.yaml"), "devices: []\n")
	changed, err := watcher.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(changed) != 1 || changed[0] != dir {
		t.Fatalf("Check() = %v, want [%s]", changed, dir)
	}
}

func TestWatcherHandlesNilReceiver(t *testing.T) {
	var watcher *Watcher
	if err := watcher.Update("", &config.Config{}); err != nil {
		t.Fatalf("nil watcher Update() error = %v", err)
	}
	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("nil watcher Check() error = %v", err)
	} else if changed != nil {
		t.Fatalf("expected nil slice from nil watcher, got %v", changed)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

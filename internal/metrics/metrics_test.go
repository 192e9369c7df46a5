package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTextfile(t *testing.T) {
	SitesTotal.WithLabelValues("ok").Inc()
	PETDomainErrors.WithLabelValues("hargreaves").Add(2)

	path := filepath.Join(t.TempDir(), "budyko.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{
		`budyko_sites_total{status="ok"}`,
		`budyko_pet_domain_errors_total{method="hargreaves"}`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %s", want)
		}
	}
}

func TestWriteTextfile_BadPath(t *testing.T) {
	if err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom")); err == nil {
		t.Error("expected error for unwritable path")
	}
}

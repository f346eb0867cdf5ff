package main

import (
	"strings"
	"testing"

	"gpmonitor/internal/docs"
)

func TestEmbeddedDocsRender(t *testing.T) {
	fsys, err := GetDocsFS()
	if err != nil {
		t.Fatalf("GetDocsFS: %v", err)
	}
	svc := docs.NewService(fsys)

	names, err := svc.ListDocs()
	if err != nil || len(names) == 0 {
		t.Fatalf("expected embedded docs, got %v %v", names, err)
	}
	for _, name := range names {
		html, err := svc.GetDoc(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !strings.Contains(html, "/control/service/") {
			t.Fatalf("%s: unexpected html:\n%s", name, html)
		}
	}
}

package parser

import "testing"

func TestFileEventSubjectIsStable(t *testing.T) {
	if FileEventSubject != "codegraph.parser.file_changed" {
		t.Fatalf("unexpected FileEventSubject: %s", FileEventSubject)
	}
}

package parser

import "testing"

func TestComputeChangedRegionsDetectsModify(t *testing.T) {
	old := "func main() {\n\tprintln(\"hi\")\n}"
	new_ := "func main() {\n\tprintln(\"hello\")\n}"

	regions := computeChangedRegions(old, new_)
	if len(regions) == 0 {
		t.Fatal("expected at least one changed region")
	}
	found := false
	for _, r := range regions {
		if r.Range.Start <= 2 && r.Range.End >= 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a region covering line 2, got %+v", regions)
	}
}

func TestComputeChangedRegionsNoChange(t *testing.T) {
	content := "a\nb\nc"
	regions := computeChangedRegions(content, content)
	if len(regions) != 0 {
		t.Fatalf("expected no regions for identical content, got %+v", regions)
	}
}

func TestComputeChangedRegionsDetectsInsert(t *testing.T) {
	old := "a\nb\nc"
	new_ := "a\nb\nnew\nc"
	regions := computeChangedRegions(old, new_)
	if len(regions) == 0 {
		t.Fatal("expected a region for the inserted line")
	}
}

func TestMergeAdjacentRegionsCollapsesOverlap(t *testing.T) {
	regions := []ChangedRegion{
		{Range: LineRange{Start: 1, End: 3}, ChangeType: Modify},
		{Range: LineRange{Start: 3, End: 5}, ChangeType: Modify},
	}
	merged := mergeAdjacentRegions(regions)
	if len(merged) != 1 {
		t.Fatalf("expected regions to merge into 1, got %d", len(merged))
	}
	if merged[0].Range.End != 5 {
		t.Fatalf("expected merged range to end at 5, got %d", merged[0].Range.End)
	}
}

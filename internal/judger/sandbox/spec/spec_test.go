package spec

import "testing"

func TestResourceLimitMerge(t *testing.T) {
	base := ResourceLimit{CPUTimeMs: 1000, WallTimeMs: 3000, MemoryMB: 256, StackMB: 64, OutputMB: 16, PIDs: 64}
	got := base.Merge(ResourceLimit{CPUTimeMs: 2000, MemoryMB: -1})
	want := base
	want.CPUTimeMs = 2000
	if got != want {
		t.Fatalf("unexpected merge %+v", got)
	}
}

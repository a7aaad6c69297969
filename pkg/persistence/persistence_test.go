package persistence

import (
	"errors"
	"testing"
)

type keeperState struct {
	LastSeenExec map[string]int64 `persistence:"last_seen_exec"`
	FailedRounds int              `persistence:"failed_rounds"`
	note         string           // 未导出字段不参与持久化
}

func TestSaveLoadRoundTrip(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	store := svc.NewStore("state", "keeper-1", "cursor")

	if err := store.Save(map[string]int64{"0xabc": 1700000120}); err != nil {
		t.Fatalf("Save err=%v", err)
	}

	var got map[string]int64
	if err := store.Load(&got); err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if got["0xabc"] != 1700000120 {
		t.Fatalf("Load got=%v", got)
	}
}

func TestLoadMissingReturnsErrNotExists(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	store := svc.NewStore("state", "keeper-1", "missing")

	var got map[string]int64
	if err := store.Load(&got); !errors.Is(err, ErrNotExists) {
		t.Fatalf("Load err=%v want ErrNotExists", err)
	}
}

func TestSaveAndLoadFieldsByTag(t *testing.T) {
	dir := t.TempDir()
	svc := NewJSONFileService(dir)

	src := keeperState{
		LastSeenExec: map[string]int64{"0x0000000000000000000000000000000000000003": 1700000060},
		FailedRounds: 2,
		note:         "runtime only",
	}
	if err := SaveFields(&src, "keeper-1", svc); err != nil {
		t.Fatalf("SaveFields err=%v", err)
	}

	var dst keeperState
	if err := LoadFields(&dst, "keeper-1", svc); err != nil {
		t.Fatalf("LoadFields err=%v", err)
	}
	if dst.LastSeenExec["0x0000000000000000000000000000000000000003"] != 1700000060 {
		t.Fatalf("LastSeenExec got=%v", dst.LastSeenExec)
	}
	if dst.FailedRounds != 2 {
		t.Fatalf("FailedRounds got=%d want=2", dst.FailedRounds)
	}
	if dst.note != "" {
		t.Fatalf("unexported field should stay zero, got=%q", dst.note)
	}
}

func TestLoadFieldsSkipsMissingState(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())

	dst := keeperState{FailedRounds: 7}
	if err := LoadFields(&dst, "fresh-keeper", svc); err != nil {
		t.Fatalf("LoadFields err=%v", err)
	}
	// 没有历史状态时保留现值
	if dst.FailedRounds != 7 {
		t.Fatalf("FailedRounds got=%d want=7", dst.FailedRounds)
	}
}

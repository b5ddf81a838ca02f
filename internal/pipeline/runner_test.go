package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kozaktomas/album-curator/internal/objectstore"
	"github.com/kozaktomas/album-curator/internal/stages"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

func TestStagedName(t *testing.T) {
	tests := []struct {
		order int
		file  UploadedFile
		want  string
	}{
		{1, UploadedFile{Key: "u/1", Name: "beach.jpg"}, "000001__beach.jpg"},
		{12, UploadedFile{Key: "u/2", Name: "Pláž v Řecku.JPG"}, "000012__Plaz_v_Recku.jpg"},
		{3, UploadedFile{Key: "u/IMG_1.heic"}, "000003__IMG_1.heic"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := StagedName(tt.order, tt.file); got != tt.want {
				t.Errorf("StagedName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStageInputs_SkipsWhenStaged(t *testing.T) {
	root := t.TempDir()
	store := objectstore.NewLocalStore(root)
	if err := os.WriteFile(filepath.Join(root, "k1"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := workspace.New(t.TempDir(), "a")
	files := []UploadedFile{{Key: "k1", Name: "one.jpg"}}
	policy := objectstore.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond}

	if _, err := StageInputs(context.Background(), store, l, files, policy, false); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "k1")); err != nil {
		t.Fatal(err)
	}

	rows, err := StageInputs(context.Background(), store, l, files, policy, false)
	if err != nil {
		t.Fatalf("staged inputs were downloaded again: %v", err)
	}
	if len(rows) != 1 || rows[0].Order != 1 || rows[0].OriginalName != "one.jpg" {
		t.Errorf("rows = %+v", rows)
	}

	_, err = StageInputs(context.Background(), store, l, files, policy, true)
	if !objectstore.IsNotFound(err) {
		t.Errorf("forced staging: err = %v, want not found", err)
	}
}

func TestStageLog(t *testing.T) {
	l := workspace.New(t.TempDir(), "a")
	err := writeStageLog(l, "dedupe", stageLog{Command: "curator stage dedupe", Stdout: "hello", Stderr: "oops", ExitCode: 3})

	var se *StageError
	if !errors.As(err, &se) || se.ExitCode != 3 || se.Stage != "dedupe" {
		t.Fatalf("err = %v", err)
	}
	want := "$ curator stage dedupe\n\n=== STDOUT ===\nhello\n\n=== STDERR ===\noops\n\n[exit_code] 3\n"
	data, rerr := os.ReadFile(l.StageLog("dedupe"))
	if rerr != nil {
		t.Fatal(rerr)
	}
	if string(data) != want {
		t.Errorf("log = %q, want %q", data, want)
	}
	if se.LogTail != want {
		t.Errorf("tail = %q", se.LogTail)
	}

	if err := writeStageLog(l, "dedupe", stageLog{Command: "again"}); err != nil {
		t.Errorf("zero exit: err = %v", err)
	}
	if got := readLogTail(l, "dedupe"); !strings.HasPrefix(got, "$ again") {
		t.Errorf("log not replaced: %q", got)
	}
}

func TestTail(t *testing.T) {
	s := strings.Repeat("ž", 10) // two bytes each
	tests := []struct {
		n    int
		want string
	}{
		{100, s},
		{4, "žž"},
		{5, "žž"},
		{0, ""},
	}
	for _, tt := range tests {
		got := tail(s, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("tail(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestInProcessRunner(t *testing.T) {
	l := workspace.New(t.TempDir(), "a")
	r := &InProcessRunner{NewExecutor: func(l workspace.Layout) *stages.Executor {
		return &stages.Executor{Layout: l}
	}}

	err := r.RunStage(context.Background(), l, "bogus", false)
	var se *StageError
	if !errors.As(err, &se) || se.ExitCode != 1 {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(se.LogTail, "Error: unknown stage") {
		t.Errorf("log tail = %q", se.LogTail)
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	l := workspace.New(t.TempDir(), "a")
	r := &ExecRunner{Binary: filepath.Join(t.TempDir(), "missing")}

	err := r.RunStage(context.Background(), l, stages.Dedupe, true)
	var se *StageError
	if !errors.As(err, &se) || se.ExitCode != 127 {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(se.LogTail, "stage dedupe --album a --data-dir") || !strings.Contains(se.LogTail, "--force") {
		t.Errorf("log tail = %q", se.LogTail)
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch := b.AddListener("a")
	other := b.AddListener("b")

	b.Send("a", Event{Type: EventStatus, Message: "running_a"})
	select {
	case ev := <-ch:
		if ev.Message != "running_a" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("listener got nothing")
	}
	select {
	case ev := <-other:
		t.Errorf("listener of another album got %+v", ev)
	default:
	}

	b.RemoveListener("a", ch)
	if _, open := <-ch; open {
		t.Error("channel not closed")
	}
	b.Send("a", Event{Type: EventDone})
}

func TestEventFor(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusRunningA, EventStatus},
		{StatusError, EventError},
		{StatusDone, EventDone},
	}
	for _, tt := range tests {
		if got := eventFor(JobState{Status: tt.status}); got.Type != tt.want || got.Data == nil {
			t.Errorf("eventFor(%s) = %+v", tt.status, got)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if !r.TryAcquire("a", "run1") {
		t.Fatal("first acquire failed")
	}
	if r.TryAcquire("a", "run2") {
		t.Error("second worker admitted")
	}
	r.Release("a", "run2")
	if !r.Active("a") {
		t.Error("release by another run removed the worker")
	}
	r.Release("a", "run1")
	if r.Active("a") || r.Len() != 0 {
		t.Error("worker still registered")
	}
}

func TestRegistry_Handoff(t *testing.T) {
	r := NewRegistry()
	if ok, wait := r.Handoff("a"); ok || wait != nil {
		t.Fatalf("handoff without worker = %v, %v", ok, wait)
	}

	r.TryAcquire("a", "run1")
	if ok, _ := r.Handoff("a"); !ok {
		t.Fatal("handoff to running worker refused")
	}
	if !r.Settle("a", "run1") {
		t.Fatal("settle lost the handoff")
	}
	if ok, _ := r.Handoff("a"); !ok {
		t.Fatal("handoff refused after worker resumed")
	}
	r.Drain("a", "run1")
	if r.Settle("a", "run1") {
		t.Fatal("settle kept a drained handoff")
	}

	ok, wait := r.Handoff("a")
	if ok || wait == nil {
		t.Fatalf("handoff to stopping worker = %v, %v", ok, wait)
	}
	select {
	case <-wait:
		t.Fatal("wait closed before release")
	default:
	}
	r.Release("a", "run1")
	<-wait
	if ok, wait := r.Handoff("a"); ok || wait != nil {
		t.Errorf("handoff after release = %v, %v", ok, wait)
	}
}

func TestWorkspaceLock(t *testing.T) {
	l := workspace.New(t.TempDir(), "a")
	lock, err := lockWorkspace(l)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lockWorkspace(l); !errors.Is(err, ErrWorkspaceLocked) {
		t.Errorf("second lock: err = %v", err)
	}
	lock.Unlock()
	again, err := lockWorkspace(l)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again.Unlock()
}

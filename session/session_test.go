package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stacksnap/coordinator"
	"stacksnap/filter"
	"stacksnap/process"
	"stacksnap/process/processtest"
	"stacksnap/snapshot"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func snapshotOf(t *testing.T, b *processtest.Backend, options ...Option) *Session {
	t.Helper()
	s := New(coordinator.New(b), options...)
	s.StartSnapshot(testContext(t))
	if err := s.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return s
}

func TestSnapshotOfSample(t *testing.T) {
	b := processtest.Sample()
	s := New(coordinator.New(b))

	published, restructured := 0, 0
	s.Subscribe(Listener{
		NodePublished: func(snapshot.Node) { published++ },
		Restructured:  func() { restructured++ },
	})

	s.StartSnapshot(testContext(t))
	if err := s.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	var names []string
	for _, p := range s.Roots() {
		names = append(names, p.Symbol())
		if !p.View().Visible {
			t.Errorf("process %s hidden under default filters", p.Name)
		}
	}
	if diff := cmp.Diff([]string{process.IdleProcessName, "app"}, names); diff != "" {
		t.Errorf("roots (-want +got):\n%s", diff)
	}

	if published != s.Store().Len() {
		t.Errorf("NodePublished called %d times for %d nodes", published, s.Store().Len())
	}
	if restructured == 0 {
		t.Error("Restructured never called")
	}

	for _, n := range s.Store().Nodes() {
		if th, ok := n.(*snapshot.ThreadNode); ok && !th.FramesComplete() {
			t.Errorf("thread %s not complete", th.Key())
		}
	}
}

func TestHideRulesAndSearch(t *testing.T) {
	s := snapshotOf(t, processtest.Sample())

	n, ok := s.Store().Lookup(snapshot.Key{PID: 100, TID: 101, Frame: snapshot.NoID})
	if !ok {
		t.Fatal("thread 101 missing")
	}
	main := n.(*snapshot.ThreadNode)

	visible := func() []bool {
		var out []bool
		for _, f := range main.Frames() {
			out = append(out, f.View().Visible)
		}
		return out
	}

	if diff := cmp.Diff([]bool{true, true, true}, visible()); diff != "" {
		t.Errorf("default visibility (-want +got):\n%s", diff)
	}

	s.SetHideRule(filter.HideSystemFrames, true)
	if diff := cmp.Diff([]bool{false, true, true}, visible()); diff != "" {
		t.Errorf("hide system frames (-want +got):\n%s", diff)
	}
	if s.HideRules() != filter.HideSystemFrames {
		t.Errorf("HideRules = %b", s.HideRules())
	}

	if err := s.SetSearchText("WAIT_INPUT"); err != nil {
		t.Fatalf("SetSearchText: %v", err)
	}
	if !main.View().Visible || !main.Process.View().Visible {
		t.Error("matching thread or its process hidden")
	}
	if diff := cmp.Diff([]bool{false, true, true}, visible()); diff != "" {
		t.Errorf("search visibility (-want +got):\n%s", diff)
	}

	worker, _ := s.Store().Lookup(snapshot.Key{PID: 100, TID: 102, Frame: snapshot.NoID})
	if worker.View().Visible {
		t.Error("non matching thread visible during search")
	}
	idle := s.Roots()[0]
	if idle.View().Visible {
		t.Error("process without a match visible during search")
	}

	if err := s.SetSearchText(""); err != nil {
		t.Fatalf("clearing search: %v", err)
	}
	if !worker.View().Visible || !idle.View().Visible {
		t.Error("clearing the search did not restore visibility")
	}
}

func TestHighlightAndExpand(t *testing.T) {
	s := snapshotOf(t, processtest.Sample(), WithHighlightRules(filter.SystemFrames))

	n, _ := s.Store().Lookup(snapshot.Key{PID: 100, TID: 101, Frame: 0})
	kernel := n.(*snapshot.FrameNode)
	n, _ = s.Store().Lookup(snapshot.Key{PID: 100, TID: 101, Frame: 1})
	user := n.(*snapshot.FrameNode)

	if kernel.View().Highlight != snapshot.HighlightSystem || user.View().Highlight != snapshot.HighlightNone {
		t.Errorf("highlights %s/%s, want system/none", kernel.View().Highlight, user.View().Highlight)
	}

	s.SetHighlight(filter.UserFrames, true)
	if user.View().Highlight != snapshot.HighlightUser {
		t.Errorf("user frame highlight %s, want user", user.View().Highlight)
	}

	s.ExpandAll(false)
	for _, n := range s.Store().Nodes() {
		if n.View().Expanded {
			t.Fatalf("node %s still expanded", n.Key())
		}
	}
}

func TestStaleGenerationIgnored(t *testing.T) {
	b := processtest.Sample()

	var once sync.Once
	reached := make(chan struct{})
	release := make(chan struct{})
	b.BeforeFrame = func(process.ProcessID, process.ThreadID, int) {
		once.Do(func() {
			close(reached)
			<-release
		})
	}

	s := New(coordinator.New(b))
	first := s.StartSnapshot(testContext(t))
	<-reached

	second := s.StartSnapshot(testContext(t))
	if !first.Stopped() {
		t.Fatal("starting a snapshot did not cancel the previous one")
	}
	close(release)

	if err := s.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	first.Wait()
	if n := s.Pump(); n != 0 {
		t.Errorf("Pump applied %d stale events", n)
	}

	if s.Store().ID() != second.ID() {
		t.Fatalf("store belongs to %s, want %s", s.Store().ID(), second.ID())
	}
	for _, n := range s.Store().Nodes() {
		owned, ok := second.Store().Lookup(n.Key())
		if !ok || owned != n {
			t.Fatalf("node %s does not belong to the current generation", n.Key())
		}
	}
	if s.Store().Len() != second.Store().Len() {
		t.Errorf("consumer has %d nodes, producer %d", s.Store().Len(), second.Store().Len())
	}
}

func TestCancelKeepsPublishedNodes(t *testing.T) {
	b := processtest.Sample()
	reached := make(chan struct{})
	release := make(chan struct{})
	b.BeforeFrame = func(pid process.ProcessID, tid process.ThreadID, index int) {
		if tid == 102 {
			close(reached)
			<-release
		}
	}

	s := New(coordinator.New(b))
	gen := s.StartSnapshot(testContext(t))
	<-reached
	s.Pump()
	before := s.Store().Len()

	s.CancelSnapshot()
	close(release)
	if err := s.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !gen.Stopped() {
		t.Fatal("generation not stopped")
	}

	if s.Store().Len() < before {
		t.Errorf("store shrank from %d to %d nodes after cancel", before, s.Store().Len())
	}
	n, ok := s.Store().Lookup(snapshot.Key{PID: 100, TID: 101, Frame: snapshot.NoID})
	if !ok {
		t.Fatal("thread 101 lost after cancel")
	}
	if th := n.(*snapshot.ThreadNode); !th.FramesComplete() || len(s.Store().Frames(th)) != 3 {
		t.Errorf("thread 101: complete=%v received frames=%d", th.FramesComplete(), len(s.Store().Frames(th)))
	}
	if b.OpenHandles() != 0 || b.OpenContexts() != 0 {
		t.Errorf("leaked %d handles and %d contexts", b.OpenHandles(), b.OpenContexts())
	}
}

func TestFramesVisibleWhileWalking(t *testing.T) {
	b := processtest.Sample()
	reached := make(chan struct{})
	release := make(chan struct{})
	b.BeforeFrame = func(pid process.ProcessID, tid process.ThreadID, index int) {
		if tid == 101 && index == 2 {
			close(reached)
			<-release
		}
	}

	s := New(coordinator.New(b))
	s.StartSnapshot(testContext(t))
	<-reached
	s.Pump()

	for _, key := range []snapshot.Key{
		{PID: 100, TID: snapshot.NoID, Frame: snapshot.NoID},
		{PID: 100, TID: 101, Frame: snapshot.NoID},
		{PID: 100, TID: 101, Frame: 0},
		{PID: 100, TID: 101, Frame: 1},
	} {
		n, ok := s.Store().Lookup(key)
		if !ok {
			t.Errorf("%s not received", key)
			continue
		}
		if !n.View().Visible {
			t.Errorf("%s hidden while its thread is walked", key)
		}
	}

	close(release)
	if err := s.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestCancelDuringSymbolResolution(t *testing.T) {
	b := processtest.Sample()
	reached := make(chan struct{})
	release := make(chan struct{})
	b.BeforeResolve = func(addr process.Address) {
		if addr == 0x401100 {
			close(reached)
			<-release
		}
	}

	s := New(coordinator.New(b))
	s.StartSnapshot(testContext(t))
	<-reached
	s.CancelSnapshot()
	close(release)
	if err := s.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	n, ok := s.Store().Lookup(snapshot.Key{PID: 100, TID: 101, Frame: snapshot.NoID})
	if !ok {
		t.Fatal("thread 101 lost after cancel")
	}
	th := n.(*snapshot.ThreadNode)
	if got := len(s.Store().Frames(th)); !th.FramesComplete() || got != th.FrameCount() {
		t.Fatalf("thread 101: complete=%v frames=%d received=%d", th.FramesComplete(), th.FrameCount(), got)
	}

	if err := s.SetSearchText("wait_input"); err != nil {
		t.Fatalf("SetSearchText: %v", err)
	}
	p := th.Process
	if !th.View().Visible || !p.View().Visible {
		t.Errorf("matching thread visible=%v process visible=%v", th.View().Visible, p.View().Visible)
	}
}

func TestPollMessage(t *testing.T) {
	s := New(coordinator.New(processtest.Sample()))
	if _, ok := s.PollMessage(); ok {
		t.Fatal("PollMessage reported a change before any snapshot")
	}

	s.StartSnapshot(testContext(t))
	s.Wait(testContext(t))

	text, ok := s.PollMessage()
	if !ok || text != "" {
		t.Errorf("first poll after completion = %q, %v; want empty text, true", text, ok)
	}
	if _, ok := s.PollMessage(); ok {
		t.Error("second poll reported a change")
	}
}

func TestFollow(t *testing.T) {
	s := New(coordinator.New(processtest.Sample()))

	var messages []string
	if err := s.Follow(testContext(t), time.Millisecond, nil); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Follow before a snapshot = %v", err)
	}

	s.StartSnapshot(testContext(t))
	if err := s.Follow(testContext(t), time.Millisecond, func(m string) { messages = append(messages, m) }); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if len(messages) == 0 || messages[len(messages)-1] != "" {
		t.Errorf("messages = %q, want a final empty message", messages)
	}
	if s.Store().Len() == 0 {
		t.Error("no nodes received")
	}
}

func TestFollowCancelKeepsNodes(t *testing.T) {
	b := processtest.Sample()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	b.BeforeFrame = func(pid process.ProcessID, tid process.ThreadID, index int) {
		if tid == 101 && index == 1 {
			once.Do(func() { close(started) })
			<-release
		}
	}

	s := New(coordinator.New(b))
	s.StartSnapshot(testContext(t))

	ctx, cancel := context.WithCancel(testContext(t))
	go func() {
		<-started
		cancel()
		close(release)
	}()

	if err := s.Follow(ctx, time.Millisecond, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Follow = %v, want context.Canceled", err)
	}
	if !s.Generation().Stopped() {
		t.Error("generation not stopped")
	}
	if _, ok := s.Store().Lookup(snapshot.Key{PID: 100, TID: 101, Frame: 0}); !ok {
		t.Error("frame received before the cancel was dropped")
	}
}

func TestWaitWithoutSnapshot(t *testing.T) {
	s := New(coordinator.New(processtest.Sample()))
	if err := s.Wait(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Wait = %v, want ErrNoSnapshot", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := New(coordinator.New(processtest.Sample()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/audio"
	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/events"
	"github.com/audiolibrelab/streamcapture/internal/recorder"
	"github.com/audiolibrelab/streamcapture/internal/session"
)

// scriptedLister returns one scripted poll result per call, repeating the last
type scriptedLister struct {
	mu    sync.Mutex
	polls []poll
	calls int
}

type poll struct {
	streams []audio.Stream
	err     error
}

func (l *scriptedLister) List(ctx context.Context) ([]audio.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.calls
	if i >= len(l.polls) {
		i = len(l.polls) - 1
	}
	l.calls++
	return l.polls[i].streams, l.polls[i].err
}

func (l *scriptedLister) Backend() audio.BackendType { return audio.BackendTypePulse }

type fakeRecorder struct {
	mu     sync.Mutex
	starts int
	stops  int
	alive  map[*recorder.Process]bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{alive: make(map[*recorder.Process]bool)}
}

func (f *fakeRecorder) Start(output, source string) (*recorder.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	p := &recorder.Process{PID: f.starts, Output: output, Source: source}
	f.alive[p] = true
	return p, nil
}

func (f *fakeRecorder) Stop(p *recorder.Process) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.alive[p] = false
	return nil
}

func (f *fakeRecorder) Alive(p *recorder.Process) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[p]
}

func (f *fakeRecorder) CommandLine(output, source string) string {
	return fmt.Sprintf("ffmpeg -f pulse -i %s %s", source, output)
}

func (f *fakeRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = mode
	cfg.Paths.DownloadDir = t.TempDir()
	cfg.Detection.PollInterval = 10 * time.Millisecond
	cfg.Detection.GracePeriod = 30 * time.Second
	cfg.Detection.Cooldown = 30 * time.Second
	return cfg
}

// fakeClock advances by step on every call
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	now := start.Add(-step)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

var (
	teamsStream   = audio.Stream{ID: 42, Application: "Microsoft Teams", Media: "Weekly Standup", Monitor: "alsa_output.analog.monitor"}
	youtubeStream = audio.Stream{ID: 7, Application: "Firefox", Media: "YouTube - Talk"}
	spotifyStream = audio.Stream{ID: 9, Application: "Spotify"}
)

func TestTick_RecordModeLifecycle(t *testing.T) {
	cfg := testConfig(t, config.ModeRecord)
	lister := &scriptedLister{}
	// t=0..4 teams plays, then the server hiccups, then 40s of silence
	for i := 0; i < 3; i++ {
		lister.polls = append(lister.polls, poll{streams: []audio.Stream{teamsStream, spotifyStream}})
	}
	lister.polls = append(lister.polls, poll{err: &audio.UnavailableError{Backend: audio.BackendTypePulse, Err: errors.New("connection refused")}})
	lister.polls = append(lister.polls, poll{streams: []audio.Stream{spotifyStream}})

	rec := newFakeRecorder()
	svc, err := New(cfg, lister, rec, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	svc.now = fakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local), 2*time.Second)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		svc.Tick(ctx)
	}

	st := svc.Status()
	if st.LastError == "" {
		t.Error("Expected query failure to be reported in status")
	}
	if st.Session.State != session.StateRecording {
		t.Errorf("Expected failed poll to leave the session recording, got %s", st.Session.State)
	}

	// Silence from t=8; stop due at t=38
	for i := 0; i < 16; i++ {
		svc.Tick(ctx)
	}

	starts, stops := rec.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("Expected one start and one stop, got starts=%d stops=%d", starts, stops)
	}

	st = svc.Status()
	if st.Session.State != session.StateIdle || st.LastError != "" {
		t.Errorf("Unexpected final status: %+v", st)
	}
	if st.Polls != 20 || st.Streams != 1 || len(st.Matches) != 0 {
		t.Errorf("Unexpected poll counters: polls=%d streams=%d matches=%d", st.Polls, st.Streams, len(st.Matches))
	}
}

func TestTick_OutageAcrossGraceSplitsSessions(t *testing.T) {
	cfg := testConfig(t, config.ModeRecord)
	lister := &scriptedLister{}
	lister.polls = append(lister.polls, poll{streams: []audio.Stream{teamsStream}})
	lister.polls = append(lister.polls, poll{streams: []audio.Stream{spotifyStream}})
	// t=4..48 the audio server is down
	for i := 0; i < 23; i++ {
		lister.polls = append(lister.polls, poll{err: &audio.UnavailableError{Backend: audio.BackendTypePulse, Err: errors.New("connection refused")}})
	}
	lister.polls = append(lister.polls, poll{streams: []audio.Stream{teamsStream}})

	rec := newFakeRecorder()
	log := &eventLog{}
	svc, err := New(cfg, lister, rec, log)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	svc.now = fakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local), 2*time.Second)

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		svc.Tick(ctx)
	}
	if st := svc.Status(); st.Session.State != session.StateStopping {
		t.Fatalf("Expected stopping during the outage, got %s", st.Session.State)
	}

	// t=50: teams is back, 48s after it was last missed
	svc.Tick(ctx)

	starts, stops := rec.counts()
	if starts != 2 || stops != 1 {
		t.Errorf("Expected the stale session stopped and a new one started, got starts=%d stops=%d", starts, stops)
	}
	st := svc.Status()
	if st.Session.State != session.StateRecording || st.Session.Session == nil {
		t.Fatalf("Expected a new recording, got %+v", st.Session)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 50, 0, time.Local); !st.Session.Session.Started.Equal(want) {
		t.Errorf("Expected new session started at %s, got %s", want, st.Session.Session.Started)
	}
}

func TestTick_NotifyModeAnnouncesWithCooldown(t *testing.T) {
	cfg := testConfig(t, config.ModeNotify)
	lister := &scriptedLister{polls: []poll{{streams: []audio.Stream{teamsStream, youtubeStream, spotifyStream}}}}
	rec := newFakeRecorder()
	log := &eventLog{}

	svc, err := New(cfg, lister, rec, log)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	svc.now = fakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local), 2*time.Second)

	// 16 polls, 2s apart: t=0 and t=30 announce
	for i := 0; i < 16; i++ {
		svc.Tick(context.Background())
	}

	if starts, _ := rec.counts(); starts != 0 {
		t.Errorf("Expected notify mode never to record, got %d starts", starts)
	}
	if len(log.events) != 4 {
		t.Fatalf("Expected 2 announcements per stream, got %d", len(log.events))
	}

	ev := log.events[0]
	if ev.Kind != events.KindDetected || ev.Group != "teams" || ev.Stream != "Microsoft Teams - Weekly Standup" {
		t.Errorf("Unexpected detection event: %+v", ev)
	}
	wantCmd := "ffmpeg -f pulse -i alsa_output.analog.monitor " + ev.Output
	if ev.Command != wantCmd {
		t.Errorf("Expected command %q, got %q", wantCmd, ev.Command)
	}
	if log.events[1].Group != "youtube" {
		t.Errorf("Expected youtube announced second, got %s", log.events[1].Group)
	}
	if !log.events[2].Time.Equal(log.events[0].Time.Add(30 * time.Second)) {
		t.Errorf("Expected re-announcement after cooldown, got %s", log.events[2].Time)
	}
}

func TestRun_ShutdownStopsActiveSession(t *testing.T) {
	cfg := testConfig(t, config.ModeRecord)
	lister := &scriptedLister{polls: []poll{{streams: []audio.Stream{teamsStream}}}}
	rec := newFakeRecorder()

	svc, err := New(cfg, lister, rec, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Status().Polls < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil from Run, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Run to return after cancellation")
	}

	starts, stops := rec.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("Expected one start and one stop, got starts=%d stops=%d", starts, stops)
	}
	if svc.Status().Session.State != session.StateIdle {
		t.Errorf("Expected idle status after shutdown, got %s", svc.Status().Session.State)
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	cfg := testConfig(t, config.ModeRecord)
	cfg.Targets = []config.Target{{Name: "bad", Patterns: []string{"re:("}}}

	if _, err := New(cfg, &scriptedLister{}, newFakeRecorder(), nil); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

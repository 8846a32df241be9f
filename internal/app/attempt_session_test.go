package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
)

func TestUntimedQuizHasNoCountdown(t *testing.T) {
	quiz := sampleQuiz()
	quiz.TimeLimitMinutes = 0
	tickers := &tickerFactory{}
	session := newSession(t, quiz, &countingPersister{}, app.SessionOptions{NewTicker: tickers.New})

	session.Start(context.Background())
	if tickers.Count() != 0 {
		t.Fatalf("expected no ticker for an untimed quiz, got %d", tickers.Count())
	}
	snap := session.Snapshot()
	if snap.Timed || snap.RemainingSeconds != 0 || snap.Warning {
		t.Fatalf("unexpected untimed snapshot %+v", snap)
	}
}

func TestCountdownAutoSubmitsOnce(t *testing.T) {
	persister := &countingPersister{}
	tickers := &tickerFactory{}
	session := newSession(t, sampleQuiz(), persister, app.SessionOptions{NewTicker: tickers.New})
	session.Start(context.Background())
	events, cancel := session.Subscribe()
	defer cancel()

	if _, err := session.RecordAnswer("q1", domain.AnswerPayload{OptionID: "o2"}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	ticker := tickers.Last()
	if ticker == nil {
		t.Fatalf("expected a ticker for a timed quiz")
	}
	for i := 0; i < 600; i++ {
		ticker.ch <- time.Now()
	}
	waitForEvent(t, events, app.EventSubmitted)

	attempt, err := session.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if !attempt.AutoSubmitted || attempt.Score != 2 {
		t.Fatalf("unexpected auto-submitted attempt %+v", attempt)
	}
	if session.State() != app.Submitted {
		t.Fatalf("expected submitted, got %s", session.State())
	}
	if !ticker.Stopped() {
		t.Fatalf("expected ticker stopped")
	}

	// A late manual submit returns the same result without persisting again.
	again, err := session.Submit(context.Background(), true)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if again.ID != attempt.ID || !again.AutoSubmitted {
		t.Fatalf("expected the first result, got %+v", again)
	}
	if persister.Calls() != 1 {
		t.Fatalf("expected one persist call, got %d", persister.Calls())
	}
}

func TestManualSubmitStopsCountdown(t *testing.T) {
	tickers := &tickerFactory{}
	session := newSession(t, sampleQuiz(), &countingPersister{}, app.SessionOptions{NewTicker: tickers.New})
	session.Start(context.Background())

	if _, err := session.Submit(context.Background(), true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !tickers.Last().Stopped() {
		t.Fatalf("expected countdown stopped by manual submit")
	}
	if got := session.Snapshot(); got.State != app.Submitted || got.Attempt == nil || got.Attempt.AutoSubmitted {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestConcurrentSubmitPersistsOnce(t *testing.T) {
	persister := &countingPersister{delay: 10 * time.Millisecond}
	tickers := &tickerFactory{}
	quiz := sampleQuiz()
	quiz.TimeLimitMinutes = 1
	session := newSession(t, quiz, persister, app.SessionOptions{NewTicker: tickers.New})
	session.Start(context.Background())
	ticker := tickers.Last()

	quit := make(chan struct{})
	go func() {
		for i := 0; i < 60; i++ {
			select {
			case ticker.ch <- time.Now():
			case <-quit:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	results := make([]domain.Attempt, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			attempt, err := session.Submit(context.Background(), true)
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
			results[i] = attempt
		}(i)
	}
	wg.Wait()
	close(quit)

	if persister.Calls() != 1 {
		t.Fatalf("expected one persist call, got %d", persister.Calls())
	}
	for i, r := range results {
		if r.ID != results[0].ID || !r.SubmittedAt.Equal(*results[0].SubmittedAt) {
			t.Fatalf("result %d differs: %+v vs %+v", i, r, results[0])
		}
	}
}

func TestSubmitWithoutAnswers(t *testing.T) {
	session := newSession(t, sampleQuiz(), &countingPersister{}, app.SessionOptions{NewTicker: (&tickerFactory{}).New})
	session.Start(context.Background())

	attempt, err := session.Submit(context.Background(), true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempt.Score != 0 || attempt.TotalPossible != 4 || attempt.Passed {
		t.Fatalf("unexpected empty attempt %+v", attempt)
	}
	if attempt.PendingReview != 1 {
		t.Fatalf("expected the free text question pending, got %d", attempt.PendingReview)
	}
	if len(attempt.Answers) != 0 {
		t.Fatalf("expected no stored answers, got %+v", attempt.Answers)
	}

	card := session.Scorecard()
	if len(card.Results) != 3 {
		t.Fatalf("expected a result per question, got %d", len(card.Results))
	}
	for _, r := range card.Results[:2] {
		if r.Answered || r.Correct == nil || *r.Correct || r.Awarded != 0 {
			t.Fatalf("expected unanswered question marked incorrect, got %+v", r)
		}
	}
	if card.Results[2].Correct != nil {
		t.Fatalf("expected free text pending, got %+v", card.Results[2])
	}
}

func TestRecordAnswerRules(t *testing.T) {
	persister := &countingPersister{}
	session := newSession(t, sampleQuiz(), persister, app.SessionOptions{NewTicker: (&tickerFactory{}).New})

	if _, err := session.RecordAnswer("q1", domain.AnswerPayload{OptionID: "o2"}); !errors.Is(err, domain.ErrAttemptNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
	session.Start(context.Background())

	cases := []struct {
		name     string
		question string
		payload  domain.AnswerPayload
		want     error
	}{
		{"unknown question", "q9", domain.AnswerPayload{OptionID: "o1"}, domain.ErrQuestionNotFound},
		{"unknown option", "q1", domain.AnswerPayload{OptionID: "o9"}, domain.ErrOptionNotFound},
		{"text for single choice", "q1", domain.AnswerPayload{Text: "4"}, domain.ErrInvalidAnswer},
		{"lowercase boolean", "q2", domain.AnswerPayload{Text: "false"}, domain.ErrInvalidAnswer},
		{"option for boolean", "q2", domain.AnswerPayload{OptionID: "o1"}, domain.ErrInvalidAnswer},
		{"option for free text", "q3", domain.AnswerPayload{OptionID: "o1"}, domain.ErrInvalidAnswer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := session.RecordAnswer(tc.question, tc.payload); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// Overwrites keep the last answer.
	if _, err := session.RecordAnswer("q1", domain.AnswerPayload{OptionID: "o1"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if recorded, err := session.RecordAnswer("q1", domain.AnswerPayload{OptionID: "o2"}); err != nil || !recorded {
		t.Fatalf("answer: %v (recorded %v)", err, recorded)
	}
	if snap := session.Snapshot(); !snap.Answered["q1"] || snap.Answered["q2"] {
		t.Fatalf("unexpected answered map %+v", snap.Answered)
	}

	attempt, err := session.Submit(context.Background(), true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempt.Score != 2 {
		t.Fatalf("expected last answer to count, got score %d", attempt.Score)
	}

	// Late answers are dropped without error and reported as not recorded.
	if recorded, err := session.RecordAnswer("q2", domain.AnswerPayload{Text: domain.True}); err != nil || recorded {
		t.Fatalf("expected late answer ignored, got recorded=%v err=%v", recorded, err)
	}
	final, _ := session.Result()
	if final.Score != 2 || len(final.Answers) != 1 {
		t.Fatalf("late answer changed the result: %+v", final)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	session := newSession(t, sampleQuiz(), &countingPersister{}, app.SessionOptions{})
	if _, err := session.Submit(context.Background(), true); !errors.Is(err, domain.ErrAttemptNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
}

func TestPersistFailureLeavesAttemptUnconfirmed(t *testing.T) {
	persister := &countingPersister{err: errors.New("connection refused")}
	session := newSession(t, sampleQuiz(), persister, app.SessionOptions{NewTicker: (&tickerFactory{}).New})
	session.Start(context.Background())
	_, _ = session.RecordAnswer("q1", domain.AnswerPayload{OptionID: "o2"})

	attempt, err := session.Submit(context.Background(), true)
	if !errors.Is(err, domain.ErrSubmissionUnconfirmed) {
		t.Fatalf("expected unconfirmed error, got %v", err)
	}
	if session.State() != app.Submitted {
		t.Fatalf("expected submitted despite persist failure, got %s", session.State())
	}
	if attempt.Confirmed || attempt.Score != 2 {
		t.Fatalf("expected local score kept unconfirmed, got %+v", attempt)
	}
	if snap := session.Snapshot(); snap.PersistError == "" {
		t.Fatalf("expected persist error on snapshot")
	}

	// No retry on a second submit.
	if _, err := session.Submit(context.Background(), true); !errors.Is(err, domain.ErrSubmissionUnconfirmed) {
		t.Fatalf("expected the same error, got %v", err)
	}
	if persister.Calls() != 1 {
		t.Fatalf("expected one persist call, got %d", persister.Calls())
	}
}

func TestStoreGradingWins(t *testing.T) {
	persister := &countingPersister{respond: func(a domain.Attempt) domain.Attempt {
		a.Score = 4
		a.PendingReview = 0
		a.Passed = true
		return a
	}}
	session := newSession(t, sampleQuiz(), persister, app.SessionOptions{NewTicker: (&tickerFactory{}).New})
	session.Start(context.Background())

	attempt, err := session.Submit(context.Background(), true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempt.Score != 4 || attempt.PendingReview != 0 || !attempt.Passed || !attempt.Confirmed {
		t.Fatalf("expected store values, got %+v", attempt)
	}
}

func TestUnfinalizedStoreRecordKeepsLocalScore(t *testing.T) {
	persister := &countingPersister{respond: func(a domain.Attempt) domain.Attempt {
		return domain.Attempt{ID: a.ID, Score: 99}
	}}
	session := newSession(t, sampleQuiz(), persister, app.SessionOptions{NewTicker: (&tickerFactory{}).New})
	session.Start(context.Background())
	_, _ = session.RecordAnswer("q2", domain.AnswerPayload{Text: domain.True})

	attempt, err := session.Submit(context.Background(), true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempt.Score != 1 {
		t.Fatalf("expected local score 1, got %d", attempt.Score)
	}
}

func TestWarningFiresOnce(t *testing.T) {
	tickers := &tickerFactory{}
	quiz := sampleQuiz()
	quiz.TimeLimitMinutes = 1
	session := newSession(t, quiz, &countingPersister{}, app.SessionOptions{
		NewTicker:        tickers.New,
		WarningThreshold: 30 * time.Second,
	})
	session.Start(context.Background())

	events, cancel := session.Subscribe()
	defer cancel()
	initial := <-events
	if initial.Snapshot.RemainingSeconds != 60 || initial.Snapshot.Warning {
		t.Fatalf("unexpected initial snapshot %+v", initial.Snapshot)
	}

	ticker := tickers.Last()
	warnings := 0
	for i := 1; i <= 40; i++ {
		ticker.ch <- time.Now()
		ev := <-events
		if ev.Snapshot.RemainingSeconds != 60-i {
			t.Fatalf("tick %d: expected %d remaining, got %d", i, 60-i, ev.Snapshot.RemainingSeconds)
		}
		if ev.Type == app.EventWarning {
			warnings++
			if i != 30 {
				t.Fatalf("expected warning at 30s remaining, got it at tick %d", i)
			}
		}
		if ev.Snapshot.Warning != (i >= 30) {
			t.Fatalf("tick %d: unexpected warning flag %v", i, ev.Snapshot.Warning)
		}
	}
	if warnings != 1 {
		t.Fatalf("expected one warning event, got %d", warnings)
	}
}

func TestSubscribeReceivesSubmitted(t *testing.T) {
	session := newSession(t, sampleQuiz(), &countingPersister{}, app.SessionOptions{NewTicker: (&tickerFactory{}).New})
	session.Start(context.Background())

	events, cancel := session.Subscribe()
	defer cancel()
	<-events

	if _, err := session.Submit(context.Background(), true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ev := <-events; ev.Type != app.EventSubmitting || ev.Snapshot.Attempt != nil {
		t.Fatalf("expected submitting event first, got %+v", ev)
	}
	ev := <-events
	if ev.Type != app.EventSubmitted || ev.Snapshot.Attempt == nil || !ev.Snapshot.Attempt.Confirmed {
		t.Fatalf("unexpected submitted event %+v", ev)
	}

	late, cancelLate := session.Subscribe()
	defer cancelLate()
	if ev := <-late; ev.Type != app.EventSubmitted {
		t.Fatalf("expected late subscriber to see submitted, got %s", ev.Type)
	}
}

func TestSubmittingVisibleWhilePersisting(t *testing.T) {
	persister := &gatedPersister{entered: make(chan struct{}, 1), release: make(chan struct{})}
	session := newSession(t, sampleQuiz(), persister, app.SessionOptions{NewTicker: (&tickerFactory{}).New})
	session.Start(context.Background())
	_, _ = session.RecordAnswer("q1", domain.AnswerPayload{OptionID: "o2"})

	type outcome struct {
		attempt domain.Attempt
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		attempt, err := session.Submit(context.Background(), true)
		done <- outcome{attempt, err}
	}()

	select {
	case <-persister.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("persist never called")
	}
	if got := session.State(); got != app.Submitting {
		t.Fatalf("expected submitting while the store call is in flight, got %s", got)
	}
	if snap := session.Snapshot(); snap.State != app.Submitting || snap.Attempt != nil {
		t.Fatalf("unexpected in-flight snapshot %+v", snap)
	}
	if _, err := session.Result(); err == nil {
		t.Fatalf("expected no result before persistence returns")
	}
	if recorded, err := session.RecordAnswer("q2", domain.AnswerPayload{Text: domain.True}); err != nil || recorded {
		t.Fatalf("expected answer dropped while submitting, got recorded=%v err=%v", recorded, err)
	}
	if session.Evictable(time.Now().Add(time.Hour), time.Now().Add(time.Hour)) {
		t.Fatalf("expected submitting session kept by the sweep")
	}

	close(persister.release)
	select {
	case out := <-done:
		if out.err != nil || !out.attempt.Confirmed || out.attempt.Score != 2 {
			t.Fatalf("unexpected outcome %+v (%v)", out.attempt, out.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("submit did not finish")
	}
	if session.State() != app.Submitted {
		t.Fatalf("expected submitted, got %s", session.State())
	}
}

func TestSubscribeWhileTicking(t *testing.T) {
	tickers := &tickerFactory{}
	session := newSession(t, sampleQuiz(), &countingPersister{}, app.SessionOptions{NewTicker: tickers.New})
	session.Start(context.Background())
	ticker := tickers.Last()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		// 300 ticks leave 5 minutes, so the quiz never expires here.
		for i := 0; i < 300; i++ {
			ticker.ch <- time.Now()
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Never read past the first event so every buffer fills up.
			events, cancel := session.Subscribe()
			defer cancel()
			first := <-events
			if first.Snapshot.AttemptID != "a1" {
				t.Errorf("unexpected first event %+v", first)
			}
		}()
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		<-finished
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(10 * time.Second):
		t.Fatalf("subscribers and countdown deadlocked")
	}
	// The last tick may still be in flight, so only bound the countdown.
	if snap := session.Snapshot(); snap.State != app.InProgress || snap.RemainingSeconds < 300 {
		t.Fatalf("unexpected snapshot after ticks %+v", snap)
	}
}

func TestEvictable(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	untimed := sampleQuiz()
	untimed.TimeLimitMinutes = 0

	idle := newSession(t, untimed, &countingPersister{}, app.SessionOptions{Now: clock.Now})
	idle.Start(context.Background())
	timed := newSession(t, sampleQuiz(), &countingPersister{}, app.SessionOptions{Now: clock.Now, NewTicker: (&tickerFactory{}).New})
	timed.Start(context.Background())

	clock.Advance(time.Hour)
	if _, err := idle.RecordAnswer("q1", domain.AnswerPayload{OptionID: "o2"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	cutoff := clock.Now().Add(-30 * time.Minute)
	if idle.Evictable(cutoff, cutoff) {
		t.Fatalf("expected recent activity to keep the session")
	}

	clock.Advance(time.Hour)
	cutoff = clock.Now().Add(-30 * time.Minute)
	if !idle.Evictable(cutoff, cutoff) {
		t.Fatalf("expected abandoned untimed session evictable")
	}
	if idle.Evictable(cutoff, time.Time{}) {
		t.Fatalf("expected a zero idle cutoff to keep open sessions")
	}
	if timed.Evictable(cutoff, cutoff) {
		t.Fatalf("expected timed session left to its countdown")
	}
}

func waitForEvent(t *testing.T, events <-chan app.Event, want app.EventType) app.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func newSession(t *testing.T, quiz domain.Quiz, persister app.SubmissionPersister, opts app.SessionOptions) *app.AttemptSession {
	t.Helper()
	bank, err := app.NewQuestionBank(quiz)
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	attempt := domain.Attempt{ID: "a1", QuizID: quiz.ID, StudentID: "u1", StudentName: "Alice", Number: 1}
	return app.NewAttemptSession(bank, attempt, persister, opts)
}

type countingPersister struct {
	err     error
	delay   time.Duration
	respond func(domain.Attempt) domain.Attempt

	mu    sync.Mutex
	calls int
}

func (p *countingPersister) PersistSubmission(_ context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return domain.Attempt{}, p.err
	}
	if p.respond != nil {
		return p.respond(attempt), nil
	}
	return attempt, nil
}

func (p *countingPersister) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// gatedPersister holds the store call open until release is closed.
type gatedPersister struct {
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPersister) PersistSubmission(_ context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	p.entered <- struct{}{}
	<-p.release
	return attempt, nil
}

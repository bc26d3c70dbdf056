package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"assessment-sync/internal/app"
	"assessment-sync/internal/domain"
	"assessment-sync/internal/infra/memory"
)

const testSecret = "test-secret"

type harness struct {
	server  *httptest.Server
	service *app.ProgressService
	auth    *Authenticator
}

func newHarness(t *testing.T, opts ...ServerOption) *harness {
	t.Helper()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	service := app.NewProgressService(quizRepo, memory.NewAttemptStore(), memory.NewProgressStore(), memory.NewFeedStore())
	auth := NewAuthenticator(testSecret, time.Hour)
	srv := httptest.NewServer(NewServer(service, auth, opts...).Routes())
	t.Cleanup(srv.Close)
	return &harness{server: srv, service: service, auth: auth}
}

func (h *harness) client(t *testing.T, userID string) *Client {
	t.Helper()
	token, err := h.auth.Issue(userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return NewClient(h.server.URL, token)
}

func TestAttemptRoundTrip(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "u1")
	ctx := context.Background()

	grant, err := c.StartAttempt(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if grant.AttemptID == "" || grant.QuestionCount != 2 || grant.TimeLimitSeconds != 60 {
		t.Fatalf("unexpected grant %+v", grant)
	}
	for _, q := range grant.Questions {
		for _, opt := range q.Options {
			if opt.Correct {
				t.Fatalf("answer key leaked for %s", q.ID)
			}
		}
	}

	snap := domain.ProgressSnapshot{
		SubjectID:       domain.AttemptSubjectID(grant.AttemptID),
		Kind:            domain.SubjectAttempt,
		UserID:          "u1",
		CurrentPosition: "q1",
		Answers:         map[string]domain.AnswerValue{"q1": domain.Choice("o2")},
		CapturedAt:      time.Now(),
	}
	if err := c.Deliver(ctx, snap); err != nil {
		t.Fatalf("autosave: %v", err)
	}
	rec, err := h.service.GetAttempt(ctx, grant.AttemptID, "u1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if rec.Answers["q1"].Choice != "o2" {
		t.Fatalf("autosave not stored: %+v", rec.Answers)
	}

	answers := map[string]domain.AnswerValue{"q1": domain.Choice("o2"), "q2": domain.Choice("o3")}
	result, err := c.SubmitAttempt(ctx, grant.AttemptID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.EarnedPoints != 10 || result.TotalPoints != 20 || result.Percent != 50 || !result.Passed {
		t.Fatalf("unexpected result %+v", result)
	}

	again, err := c.SubmitAttempt(ctx, grant.AttemptID, answers)
	if err != nil || again.EarnedPoints != result.EarnedPoints {
		t.Fatalf("expected idempotent replay, got %+v %v", again, err)
	}

	err = c.Deliver(ctx, snap)
	class, ok := domain.ClassOf(err)
	if !ok || class != domain.ClassServerRejected {
		t.Fatalf("expected rejection after submit, got %v", err)
	}
}

func TestAttemptLimitIsRejectedWithConflict(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "u1")
	ctx := context.Background()

	grant, err := c.StartAttempt(ctx, "quiz-once", "u1")
	if err != nil || grant.AttemptNumber != 1 || grant.AttemptsAllowed != 1 {
		t.Fatalf("start: %+v %v", grant, err)
	}
	res, err := c.SubmitAttempt(ctx, grant.AttemptID, map[string]domain.AnswerValue{"q1": domain.Choice("o1")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.CanRetake {
		t.Fatalf("expected no retake on a single-attempt quiz")
	}
	if key := res.Breakdown[0].CorrectAnswer; key == nil || key.Choice != "o2" {
		t.Fatalf("expected correct answer revealed, got %+v", res.Breakdown[0])
	}

	_, err = c.StartAttempt(ctx, "quiz-once", "u1")
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.Class != domain.ClassServerRejected || de.Status != http.StatusConflict {
		t.Fatalf("expected 409 rejection, got %v", err)
	}
}

func TestProgressUpdateReportsMilestone(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "u1")
	ctx := context.Background()

	snap := domain.NewProgressSnapshot(domain.SubjectTutorial, "tut-1", "u1", "step-2", []string{"step-1", "step-2"}, 4, time.Now())
	if err := c.Deliver(ctx, snap); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	rec, err := c.GetProgress(ctx, "tut-1")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if rec.Snapshot.PercentComplete != 50 || rec.Status != domain.StatusInProgress {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	h := newHarness(t)
	c := NewClient(h.server.URL, "not-a-token")

	_, err := c.StartAttempt(context.Background(), "quiz-1", "u1")
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.Class != domain.ClassServerRejected || de.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 rejection, got %v", err)
	}
}

func TestBeaconAppliesSnapshot(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "u1")

	snap := domain.NewProgressSnapshot(domain.SubjectVideo, "vid-1", "u1", "t=30", []string{"c1"}, 4, time.Now())
	if err := c.Beacon(snap); err != nil {
		t.Fatalf("beacon: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec, err := h.service.GetProgress(context.Background(), "vid-1", "u1"); err == nil {
			if rec.Snapshot.CurrentPosition != "t=30" {
				t.Fatalf("unexpected beaconed record %+v", rec)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("beacon never applied")
}

type recordingOutbox struct {
	got chan domain.ProgressSnapshot
}

func (o *recordingOutbox) Enqueue(_ context.Context, _ string, snapshot domain.ProgressSnapshot) error {
	o.got <- snapshot
	return nil
}

func TestBeaconUsesOutbox(t *testing.T) {
	outbox := &recordingOutbox{got: make(chan domain.ProgressSnapshot, 1)}
	h := newHarness(t, WithBeaconQueue(outbox))
	token, _ := h.auth.Issue("u1")

	body := `{"subjectId":"tut-1","kind":"tutorial","userId":"u1","completedPositions":[],"percentComplete":0,"capturedAt":"2024-11-22T09:00:00Z"}`
	resp, err := http.Post(h.server.URL+"/api/progress/beacon?token="+token, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	select {
	case snap := <-outbox.got:
		if snap.SubjectID != "tut-1" {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("outbox not used")
	}
	if _, err := h.service.GetProgress(context.Background(), "tut-1", "u1"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected outbox to defer apply, got %v", err)
	}
}

func TestClientClassifiesFailures(t *testing.T) {
	snap := domain.NewProgressSnapshot(domain.SubjectTutorial, "tut-1", "u1", "step-1", nil, 4, time.Now())

	for name, tc := range map[string]struct {
		status int
		want   domain.DeliveryClass
	}{
		"gateway":     {http.StatusBadGateway, domain.ClassTimeout},
		"unavailable": {http.StatusServiceUnavailable, domain.ClassTimeout},
		"conflict":    {http.StatusConflict, domain.ClassServerRejected},
		"bad request": {http.StatusBadRequest, domain.ClassServerRejected},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, envelope{Error: "nope"})
			}))
			defer srv.Close()

			err := NewClient(srv.URL, "t").Deliver(context.Background(), snap)
			class, ok := domain.ClassOf(err)
			if !ok || class != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}

	t.Run("success false", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, envelope{Success: false, Error: "refused"})
		}))
		defer srv.Close()
		err := NewClient(srv.URL, "t").Deliver(context.Background(), snap)
		if class, _ := domain.ClassOf(err); class != domain.ClassServerRejected {
			t.Fatalf("expected rejection, got %v", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		err := NewClient(addr, "t").Deliver(context.Background(), snap)
		if class, _ := domain.ClassOf(err); class != domain.ClassOffline {
			t.Fatalf("expected offline, got %v", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := NewClient(srv.URL, "t").Deliver(ctx, snap)
		if class, _ := domain.ClassOf(err); class != domain.ClassTimeout {
			t.Fatalf("expected timeout, got %v", err)
		}
	})
}

func TestWebSocketProgressBoard(t *testing.T) {
	h := newHarness(t)
	token, _ := h.auth.Issue("u1")

	u := "ws" + h.server.URL[len("http"):] + "/ws?subjectId=tut-1&userId=u1&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial board snapshot.
	readNext(conn, t, "board")

	update := map[string]any{
		"type": "progress",
		"payload": map[string]any{
			"subjectId":          "tut-1",
			"kind":               "tutorial",
			"userId":             "u1",
			"currentPosition":    "step-1",
			"completedPositions": []string{"step-1"},
			"percentComplete":    25,
			"capturedAt":         time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		t.Fatalf("write progress: %v", err)
	}

	ackSeen := false
	boardSeen := false
	for i := 0; i < 3 && !(ackSeen && boardSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "ack":
			ackSeen = true
			if payload["milestone"] != float64(25) {
				t.Fatalf("expected milestone 25, got %v", payload["milestone"])
			}
		case "board":
			boardSeen = true
		}
	}
	if !ackSeen || !boardSeen {
		t.Fatalf("expected ack and board, got ack=%v board=%v", ackSeen, boardSeen)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	h := newHarness(t)
	u := "ws" + h.server.URL[len("http"):] + "/ws?subjectId=tut-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func sampleQuiz() map[string]domain.Quiz {
	quiz := domain.Quiz{
		ID:               "quiz-1",
		TimeLimitSeconds: 60,
		PassingGrade:     50,
		Questions:        sampleQuestions(),
	}
	once := quiz
	once.ID = "quiz-once"
	once.AttemptsAllowed = 1
	once.ShowCorrectAnswers = true
	return map[string]domain.Quiz{"quiz-1": quiz, "quiz-once": once}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:     "q1",
			Type:   domain.QuestionSingleChoice,
			Prompt: "What is 2 + 2?",
			Options: []domain.Option{
				{ID: "o1", Text: "3", Correct: false},
				{ID: "o2", Text: "4", Correct: true},
			},
			Points: 10,
		},
		{
			ID:     "q2",
			Type:   domain.QuestionTrueFalse,
			Prompt: "The earth is flat.",
			Options: []domain.Option{
				{ID: "o3", Text: "True", Correct: false},
				{ID: "o4", Text: "False", Correct: true},
			},
			Points: 10,
		},
	}
}

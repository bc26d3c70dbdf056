package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"assessment-sync/internal/domain"
)

// Client talks to the progress server. It implements progress.Sender,
// progress.Beaconer, progress.BeaconDrainer, progress.Prober and
// attempt.Client, classifying every failure into the delivery taxonomy.
type Client struct {
	baseURL       string
	token         string
	http          *http.Client
	beaconTimeout time.Duration
	log           *zap.Logger

	inflight  sync.WaitGroup
	mu        sync.Mutex
	beaconSeq uint64
	beacons   map[uint64]domain.ProgressSnapshot // issued, not yet confirmed
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithBeaconTimeout bounds the detached beacon request.
func WithBeaconTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.beaconTimeout = d }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		http:          &http.Client{},
		beaconTimeout: 10 * time.Second,
		log:           zap.NewNop(),
		beacons:       make(map[uint64]domain.ProgressSnapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver sends a snapshot through the route for its kind.
func (c *Client) Deliver(ctx context.Context, snapshot domain.ProgressSnapshot) error {
	if snapshot.Kind == domain.SubjectAttempt {
		attemptID, ok := domain.AttemptIDFromSubject(snapshot.SubjectID)
		if !ok {
			return domain.Rejected(0, fmt.Errorf("attempt subject id %q", snapshot.SubjectID))
		}
		return c.do(ctx, http.MethodPut, "/api/attempts/"+url.PathEscape(attemptID)+"/autosave", snapshot, nil)
	}
	return c.do(ctx, http.MethodPost, "/api/progress", snapshot, nil)
}

// Beacon posts the snapshot on a detached goroutine and returns at once. The
// snapshot counts as delivered once the server answers below 500; Drain
// reports the ones that never got that far.
func (c *Client) Beacon(snapshot domain.ProgressSnapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	endpoint := c.baseURL + "/api/progress/beacon?token=" + url.QueryEscape(c.token)

	c.mu.Lock()
	c.beaconSeq++
	id := c.beaconSeq
	c.beacons[id] = snapshot.Clone()
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.beaconTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Debug("beacon not delivered", zap.String("subject_id", snapshot.SubjectID), zap.Error(err))
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			c.log.Debug("beacon refused", zap.String("subject_id", snapshot.SubjectID), zap.Int("status", resp.StatusCode))
			return
		}
		c.mu.Lock()
		delete(c.beacons, id)
		c.mu.Unlock()
	}()
	return nil
}

// Drain waits for in-flight beacons until ctx is done and hands back every
// snapshot whose beacon was not confirmed. Returned snapshots are forgotten.
func (c *Client) Drain(ctx context.Context) []domain.ProgressSnapshot {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ProgressSnapshot, 0, len(c.beacons))
	for id, snap := range c.beacons {
		out = append(out, snap)
		delete(c.beacons, id)
	}
	return out
}

// Ping checks the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, errors.New(resp.Status))
	}
	return nil
}

func (c *Client) StartAttempt(ctx context.Context, quizID, userID string) (domain.AttemptGrant, error) {
	var grant domain.AttemptGrant
	err := c.do(ctx, http.MethodPost, "/api/quizzes/"+url.PathEscape(quizID)+"/attempts", startRequest{UserID: userID}, &grant)
	return grant, err
}

func (c *Client) SubmitAttempt(ctx context.Context, attemptID string, answers map[string]domain.AnswerValue) (domain.ScoreResult, error) {
	var result domain.ScoreResult
	err := c.do(ctx, http.MethodPost, "/api/attempts/"+url.PathEscape(attemptID)+"/submit", submitRequest{Answers: answers}, &result)
	return result, err
}

// GetProgress fetches the stored record for a subject.
func (c *Client) GetProgress(ctx context.Context, subjectID string) (domain.ProgressRecord, error) {
	var rec domain.ProgressRecord
	err := c.do(ctx, http.MethodGet, "/api/progress/"+url.PathEscape(subjectID), nil, &rec)
	return rec, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return classifyStatus(resp.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return domain.Rejected(resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr))
	}
	if !env.Success {
		return domain.Rejected(resp.StatusCode, errors.New(env.Error))
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.Rejected(resp.StatusCode, fmt.Errorf("decode data: %w", err))
		}
	}
	return nil
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Timeout(err)
	}
	return domain.Offline(err)
}

// classifyStatus maps gateway and server errors to Timeout so they are
// retried; any other non-2xx status is a rejection.
func classifyStatus(status int, err error) error {
	if status >= http.StatusInternalServerError {
		return &domain.DeliveryError{Class: domain.ClassTimeout, Status: status, Err: err}
	}
	return domain.Rejected(status, err)
}

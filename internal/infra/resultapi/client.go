// Package resultapi is the HTTP submission transport: it posts the ordered
// answer records and decodes the server's authoritative result. Any
// transport or shape failure surfaces as an error; the submission
// coordinator turns every such error into the local-fallback path, so
// nothing here is ever fatal to a play-through.
package resultapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"arena-engine/internal/domain"
)

// ErrDisabled marks a client configured without a submission URL; every
// call fails fast and the engine scores locally.
var ErrDisabled = errors.New("submission endpoint not configured")

type Client struct {
	http *http.Client
	url  string
}

func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		url:  url,
	}
}

type submitRequest struct {
	LessonID string                `json:"lessonId"`
	Answers  []domain.AnswerRecord `json:"answers"`
}

func (c *Client) SubmitAnswers(ctx context.Context, lessonID string, answers []domain.AnswerRecord) (domain.SessionResult, error) {
	if c.url == "" {
		return domain.SessionResult{}, ErrDisabled
	}

	body, err := json.Marshal(submitRequest{LessonID: lessonID, Answers: answers})
	if err != nil {
		return domain.SessionResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.SessionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return domain.SessionResult{}, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return domain.SessionResult{}, fmt.Errorf("submit answers: %s", res.Status)
	}

	var result domain.SessionResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return domain.SessionResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}

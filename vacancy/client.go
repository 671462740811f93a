package vacancy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrAuthFailure covers every way of not obtaining a bearer token.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrSubmissionFailure is a failed report call after a valid token.
	ErrSubmissionFailure = errors.New("vacancy submission failed")
)

// Request reports that a bike was scanned at a rack.
type Request struct {
	BikeRackID       int    `json:"bikeRackId"`
	UserDocument     string `json:"userDocument"`
	EmployeeDocument string `json:"employeeDocument"`
}

type Response struct {
	Message     string `json:"message"`
	IsRetrieval bool   `json:"isRetrieval"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Reporter submits a vacancy change.
type Reporter interface {
	Submit(ctx context.Context, req Request) (*Response, error)
}

var _ Reporter = (*Client)(nil)

// Client talks to the bike-rack API. Every Submit authenticates afresh and
// nothing is retried.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

func NewClient(baseURL string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), creds: creds, http: httpClient}
}

func (c *Client) Submit(ctx context.Context, req Request) (*Response, error) {
	token, err := c.token(ctx)
	if err != nil {
		log.Error().Err(err).Msg("vacancy: authentication failed")
		return nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	var out Response
	if err := c.post(ctx, "/vacancy", token, req, &out); err != nil {
		log.Error().Err(err).Int("bikeRackId", req.BikeRackID).Msg("vacancy: submission failed")
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailure, err)
	}
	log.Info().Int("bikeRackId", req.BikeRackID).Str("message", out.Message).Bool("isRetrieval", out.IsRetrieval).Msg("vacancy: submitted")
	return &out, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/auth", "", c.creds, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty token in response")
	}
	return out.Token, nil
}

func (c *Client) post(ctx context.Context, path, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("POST %s: decode response: %w", path, err)
	}
	return nil
}

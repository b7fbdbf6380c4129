package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type bookRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes,omitempty"`
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, httpClient *http.Client) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// book returns the HTTP status and, on 201, the new appointment id.
func (c *apiClient) book(ctx context.Context, req bookRequest) (int, uuid.UUID, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/appointments", req)
	if err != nil || status != http.StatusCreated {
		return status, uuid.Nil, err
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return status, uuid.Nil, fmt.Errorf("decode created appointment: %w", err)
	}
	return status, created.ID, nil
}

func (c *apiClient) get(ctx context.Context, path string) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, path, nil)
	return status, err
}

func (c *apiClient) put(ctx context.Context, path string) (int, error) {
	status, _, err := c.do(ctx, http.MethodPut, path, nil)
	return status, err
}

func (c *apiClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// Package occupancy queries the prisoner-search service for current cell
// occupancy. Every deactivation, conversion and capacity reduction checks
// occupancy before mutating anything, so a prisoner is never stranded in a
// location the system thinks is out of use.
package occupancy

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"locations-inside-prison/pkg/platform/sentinel"
)

// Client answers how many prisoners currently occupy each path hierarchy.
// Paths with no occupants may be absent from the result map.
type Client interface {
	SearchByPathHierarchies(ctx context.Context, prisonID string, paths []string) (map[string]int, error)
}

// HTTPClient calls the prisoner-search API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type occupancyResponse struct {
	Occupancy []struct {
		PathHierarchy string `json:"pathHierarchy"`
		Prisoners     int    `json:"prisoners"`
	} `json:"occupancy"`
}

// SearchByPathHierarchies fetches occupancy counts for the given paths.
func (c *HTTPClient) SearchByPathHierarchies(ctx context.Context, prisonID string, paths []string) (map[string]int, error) {
	if len(paths) == 0 {
		return map[string]int{}, nil
	}

	endpoint := fmt.Sprintf("%s/prisons/%s/occupancy?paths=%s",
		c.baseURL, url.PathEscape(prisonID), url.QueryEscape(strings.Join(paths, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build occupancy request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("occupancy search: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("occupancy search returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	var body occupancyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode occupancy response: %w", err)
	}

	out := make(map[string]int, len(body.Occupancy))
	for _, entry := range body.Occupancy {
		out[entry.PathHierarchy] = entry.Prisoners
	}
	return out, nil
}

// Stub is a fixed occupancy map for tests and local development.
type Stub map[string]int

func (s Stub) SearchByPathHierarchies(_ context.Context, _ string, paths []string) (map[string]int, error) {
	out := make(map[string]int)
	for _, path := range paths {
		if count, ok := s[path]; ok {
			out[path] = count
		}
	}
	return out, nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
)

// serverError extracts the "error" field of a JSON error body, falling back to
// the raw body.
func serverError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func postJSON(endpoint string, in, out interface{}) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	resp, err := http.Post(endpoint, "application/json", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func getJSON(endpoint string, out interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func answerViaHTTP(serverURL, question string) (*models.Answer, error) {
	var answer models.Answer
	err := postJSON(strings.TrimRight(serverURL, "/")+"/api/v1/answer", &models.AnswerRequest{Question: question}, &answer)
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

// searchURL builds the GET /api/v1/search URL; k is omitted when zero.
func searchURL(serverURL string, query *models.SearchQuery) string {
	v := url.Values{}
	v.Set("q", query.Query)
	if query.K != 0 {
		v.Set("k", strconv.Itoa(query.K))
	}
	return strings.TrimRight(serverURL, "/") + "/api/v1/search?" + v.Encode()
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	var response models.SearchResponse
	if err := getJSON(searchURL(serverURL, query), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func indexViaHTTP(serverURL, path string, req interface{}) (*indexer.BuildReport, error) {
	var report indexer.BuildReport
	if err := postJSON(strings.TrimRight(serverURL, "/")+path, req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func statusViaHTTP(serverURL string) (*indexer.Status, error) {
	var st indexer.Status
	if err := getJSON(strings.TrimRight(serverURL, "/")+"/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

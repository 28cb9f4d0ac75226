package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service, *fakeStore) {
	t.Helper()
	svc, fake := newTestService(t)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, svc, fake
}

func getJSON(t *testing.T, url, token string, target any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, token, body string, target any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	var body map[string]any
	if status := getJSON(t, server.URL+"/api/health", "", &body); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if body["ok"] != true {
		t.Errorf("health body = %v", body)
	}
}

func TestListBarragesIsPublic(t *testing.T) {
	server, svc, _ := newTestServer(t)

	session := Session{UserID: "u_1"}
	for i := 0; i < 3; i++ {
		if _, err := svc.SubmitBarrage(context.Background(), session, SubmitBarrageInput{Content: "hey"}); err != nil {
			t.Fatal(err)
		}
	}

	var items []BarrageView
	if status := getJSON(t, server.URL+"/api/barrages", "", &items); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	if status := getJSON(t, server.URL+"/api/barrages?since_id=2", "", &items); status != http.StatusOK {
		t.Fatalf("incremental list status = %d", status)
	}
	if len(items) != 1 || items[0].ID != 3 {
		t.Errorf("incremental list = %+v, want single item id 3", items)
	}

	if status := getJSON(t, server.URL+"/api/barrages?since_id=abc", "", nil); status != http.StatusUnprocessableEntity {
		t.Errorf("bad since_id status = %d, want 422", status)
	}
}

func TestSubmitBarrageRequiresAuth(t *testing.T) {
	server, svc, fake := newTestServer(t)

	var errBody map[string]any
	status := postJSON(t, server.URL+"/api/barrages", "", `{"content":"hi"}`, &errBody)
	if status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated submit status = %d, want 401", status)
	}
	if errBody["code"] != "UNAUTHORIZED" {
		t.Errorf("error code = %v", errBody["code"])
	}

	session, err := svc.CreateSession(context.Background(), "u_1")
	if err != nil {
		t.Fatal(err)
	}

	var okBody map[string]any
	status = postJSON(t, server.URL+"/api/barrages", session.Token,
		`{"content":"hi","color":"#abcdef","mode":"left","speed":80}`, &okBody)
	if status != http.StatusOK {
		t.Fatalf("submit status = %d, body = %v", status, okBody)
	}
	if okBody["success"] != true {
		t.Errorf("submit body = %v", okBody)
	}
	if len(fake.barrages) != 1 || fake.barrages[0].Mode != "left" {
		t.Errorf("stored barrage = %+v", fake.barrages)
	}
}

func TestReportEndpoint(t *testing.T) {
	server, svc, fake := newTestServer(t)

	session, err := svc.CreateSession(context.Background(), "u_1")
	if err != nil {
		t.Fatal(err)
	}

	var body map[string]any
	status := postJSON(t, server.URL+"/api/barrages/report", session.Token, `{"barrageId":7}`, &body)
	if status != http.StatusOK {
		t.Fatalf("report status = %d, body = %v", status, body)
	}
	if len(fake.reportCalls) != 1 || fake.reportCalls[0] != 7 {
		t.Errorf("reportCalls = %v", fake.reportCalls)
	}

	status = postJSON(t, server.URL+"/api/barrages/report", session.Token, `{"barrageId":0}`, &body)
	if status != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", status)
	}
}

func TestMeEndpoint(t *testing.T) {
	server, svc, _ := newTestServer(t)

	var body map[string]any
	if status := getJSON(t, server.URL+"/api/me", "", &body); status != http.StatusOK {
		t.Fatalf("me status = %d", status)
	}
	if body["isLoggedIn"] != false {
		t.Errorf("anonymous me = %v", body)
	}
	cfg, ok := body["config"].(map[string]any)
	if !ok || cfg["barrageMaxLength"] != float64(50) {
		t.Errorf("me config = %v", body["config"])
	}

	session, err := svc.CreateSession(context.Background(), "u_1")
	if err != nil {
		t.Fatal(err)
	}
	if status := getJSON(t, server.URL+"/api/me", session.Token, &body); status != http.StatusOK {
		t.Fatalf("me status = %d", status)
	}
	if body["isLoggedIn"] != true {
		t.Errorf("authenticated me = %v", body)
	}
	user, ok := body["user"].(map[string]any)
	if !ok || user["username"] != "momo" {
		t.Errorf("me user = %v", body["user"])
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _, _ := newTestServer(t)
	if status := getJSON(t, server.URL+"/api/nope", "", nil); status != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", status)
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/barrages", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS origin header")
	}
}

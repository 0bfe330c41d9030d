package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected Authorization header, got %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pools":[
			{"id":"mana","current":812.5,"max":1000},
			{"id":"energy","current":45,"max":100}
		]}`))
	}))
	defer server.Close()

	s := New("bridge", server.URL, "secret")
	readings, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	if readings[0].PoolID != "mana" || readings[0].Current != 812.5 || readings[0].Max != 1000 {
		t.Errorf("unexpected mana reading: %+v", readings[0])
	}
	if readings[1].PoolID != "energy" || readings[1].Current != 45 {
		t.Errorf("unexpected energy reading: %+v", readings[1])
	}
}

func TestReadHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := New("bridge", server.URL, "")
	if _, err := s.Read(context.Background()); err == nil {
		t.Errorf("expected error on HTTP 503")
	}
}

func TestReadMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	s := New("bridge", server.URL, "")
	if _, err := s.Read(context.Background()); err == nil {
		t.Errorf("expected error on malformed body")
	}
}

func TestReadNoToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no Authorization header, got %s", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"pools":[]}`))
	}))
	defer server.Close()

	s := New("bridge", server.URL, "")
	readings, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(readings) != 0 {
		t.Errorf("expected empty readings, got %d", len(readings))
	}
}

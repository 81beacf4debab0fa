package links

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClient_Links(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("title"); got != "Capybara" {
			t.Fatalf("want title=Capybara, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"links": []string{"Rodent", "Mammal"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 5*time.Second)
	out, err := c.Links(context.Background(), "Capybara")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 2 || out[0] != "Rodent" {
		t.Fatalf("bad links: %v", out)
	}
}

func TestHTTPClient_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 5*time.Second)
	if _, err := c.Links(context.Background(), "Capybara"); err == nil {
		t.Fatalf("expected error on bad status")
	}
}

func TestFilter(t *testing.T) {
	all := []string{"Rodent", "File:Capybara.jpg", "Mammal", "Image:Map.png", "Animal"}

	cases := []struct {
		name          string
		maxLinks      int
		includeImages bool
		want          []string
	}{
		{"drops images by default", 0, false, []string{"Rodent", "Mammal", "Animal"}},
		{"keeps images when enabled", 0, true, all},
		{"caps at max links", 2, false, []string{"Rodent", "Mammal"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Filter(all, tc.maxLinks, tc.includeImages)
			if len(got) != len(tc.want) {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("want %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestContains(t *testing.T) {
	norm := func(s string) string { return strings.ToLower(strings.ReplaceAll(s, "_", " ")) }
	all := []string{"South American rodents", "Mammal"}

	if !Contains(all, "south_american_rodents", norm) {
		t.Fatalf("normalized comparison should match")
	}
	if Contains(all, "Bird", norm) {
		t.Fatalf("unexpected match")
	}
}

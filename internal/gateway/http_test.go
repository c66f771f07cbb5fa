package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rmarin/campo/internal/store"
)

func testAction() *store.FieldAction {
	return &store.FieldAction{
		ID:         "a1",
		OrgID:      "org",
		AgentID:    "v1",
		CustomerID: "c1",
		Type:       "visita",
		Channel:    "presencial",
		Title:      "Visita",
		Lifecycle:  store.LifecycleScheduled,
		MediaIDs:   []string{"m1"},
		Version:    2,
		UpdatedAt:  1000,
	}
}

func TestUpsertActionRequestShape(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "a1", "acceptedAt": 5000})
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "tok-123", 5*time.Second)
	res, err := g.UpsertAction(context.Background(), testAction())
	if err != nil {
		t.Fatal(err)
	}
	if res.ServerID != "a1" || res.AcceptedAt != 5000 {
		t.Errorf("result = %+v", res)
	}
	if res.Conflict {
		t.Error("conflict = true, want false")
	}

	if gotPath != "/v1/orgs/org/actions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth = %q", gotAuth)
	}
	for field, want := range map[string]string{
		"id":             "a1",
		"organizationId": "org",
		"vendedorId":     "v1",
		"clienteId":      "c1",
		"tipo":           "visita",
		"estado":         "scheduled",
	} {
		if got, _ := gotBody[field].(string); got != want {
			t.Errorf("body[%s] = %q, want %q", field, got, want)
		}
	}
	if v, _ := gotBody["baseVersion"].(float64); int64(v) != 2 {
		t.Errorf("body[baseVersion] = %v, want 2", gotBody["baseVersion"])
	}
}

func TestUpsertActionConflictCarriesServerCopy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "a1",
			"conflict": true,
			"server": map[string]any{
				"id":             "a1",
				"organizationId": "org",
				"titulo":         "Cambiado por supervisor",
				"estado":         "cancelled",
				"updatedAt":      9000,
			},
		})
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "", time.Second)
	res, err := g.UpsertAction(context.Background(), testAction())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Conflict {
		t.Fatal("conflict = false, want true")
	}
	if res.Server == nil {
		t.Fatal("server copy missing")
	}
	if res.Server.Title != "Cambiado por supervisor" || res.Server.Lifecycle != "cancelled" {
		t.Errorf("server copy = %+v", res.Server)
	}
	if res.Server.UpdatedAt != 9000 {
		t.Errorf("server updated_at = %d, want 9000", res.Server.UpdatedAt)
	}
}

func TestPostErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
		reason    string
	}{
		{"server error", 503, `{"retryable":true,"reason":"db down"}`, true, "db down"},
		{"rate limited", 429, ``, true, "429 Too Many Requests"},
		{"validation", 422, `{"reason":"tipo desconocido"}`, false, "tipo desconocido"},
		{"tenant boundary", 403, `{"reason":"organización ajena"}`, false, "organización ajena"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			g := NewHTTP(srv.URL, "", time.Second)
			_, err := g.UpsertAction(context.Background(), testAction())
			var gerr *Error
			if !errors.As(err, &gerr) {
				t.Fatalf("error type = %T", err)
			}
			if gerr.Retryable != tc.retryable {
				t.Errorf("retryable = %v, want %v", gerr.Retryable, tc.retryable)
			}
			if gerr.Transport {
				t.Error("transport = true for a produced response")
			}
			if gerr.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", gerr.Reason, tc.reason)
			}
			if tc.status == 403 && !gerr.TenantRejected() {
				t.Error("TenantRejected() = false for 403")
			}
		})
	}
}

func TestConnectionFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	g := NewHTTP(srv.URL, "", time.Second)
	_, err := g.UpsertAction(context.Background(), testAction())
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("error type = %T", err)
	}
	if !gerr.Transport || !gerr.Retryable {
		t.Errorf("error = %+v, want transport+retryable", gerr)
	}
}

func TestUploadMediaMultipart(t *testing.T) {
	var gotKind, gotParent string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotKind = r.FormValue("kind")
		gotParent = r.FormValue("parentEntityId")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			buf := make([]byte, 16)
			n, _ := f.Read(buf)
			gotFile = buf[:n]
			_ = f.Close()
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://media.example/m1.jpg", "filename": "m1.jpg"})
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "", time.Second)
	res, err := g.UploadMedia(context.Background(), &store.MediaAsset{
		ID: "m1", OrgID: "org", ActionID: "a1", Kind: "photo", Blob: []byte("jpegdata"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.URL != "https://media.example/m1.jpg" {
		t.Errorf("url = %q", res.URL)
	}
	if gotKind != "photo" || gotParent != "a1" {
		t.Errorf("form = kind %q parent %q", gotKind, gotParent)
	}
	if string(gotFile) != "jpegdata" {
		t.Errorf("file = %q", gotFile)
	}
}

func TestPingLocationRoundtrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orgs/org/locations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]int64{"acceptedAt": 7000})
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "", time.Second)
	res, err := g.PingLocation(context.Background(), &store.LocationPing{
		ID: "p1", OrgID: "org", AgentID: "v1", Lat: -12.05, Lng: -77.04, PingedAt: 6000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AcceptedAt != 7000 {
		t.Errorf("acceptedAt = %d, want 7000", res.AcceptedAt)
	}
}

package champdata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newDDragonServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/versions.json":
			w.Write([]byte(`["14.9.1","14.8.1"]`))
		case "/cdn/14.9.1/data/en_US/champion.json":
			w.Write([]byte(`{"data":{
				"Yasuo":{"id":"Yasuo","key":"157","name":"Yasuo"},
				"MonkeyKing":{"id":"MonkeyKing","key":"62","name":"Wukong"},
				"Broken":{"id":"Broken","key":"not-a-number","name":"Broken"}
			}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRegistryRefreshAndResolve(t *testing.T) {
	ts := newDDragonServer(t)
	store := openTestStore(t)

	r := NewRegistry(zap.NewNop())
	r.baseURL = ts.URL

	if err := r.Refresh(store); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if r.Version() != "14.9.1" {
		t.Errorf("Version = %q, want 14.9.1", r.Version())
	}
	if r.Size() != 2 {
		t.Errorf("Size = %d, want 2 (non-numeric key skipped)", r.Size())
	}

	champ, ok := r.Resolve(157)
	if !ok {
		t.Fatal("Resolve(157) not found")
	}
	if champ.Key != "Yasuo" || champ.Name != "Yasuo" {
		t.Errorf("Resolve(157) = %+v", champ)
	}
	if name := r.Name(62); name != "Wukong" {
		t.Errorf("Name(62) = %q, want Wukong", name)
	}

	if _, ok := r.Resolve(9999); ok {
		t.Error("Resolve(9999) should miss")
	}
	if name := r.Name(9999); name != "Champion 9999" {
		t.Errorf("Name(9999) = %q, want placeholder", name)
	}
}

func TestRegistryLoadFromStore(t *testing.T) {
	ts := newDDragonServer(t)
	store := openTestStore(t)

	seed := NewRegistry(zap.NewNop())
	seed.baseURL = ts.URL
	if err := seed.Refresh(store); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// A fresh registry resolves from the store without any network
	r := NewRegistry(zap.NewNop())
	r.baseURL = "http://127.0.0.1:0"
	if err := r.LoadFromStore(store); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}

	if r.Version() != "14.9.1" {
		t.Errorf("Version = %q, want 14.9.1", r.Version())
	}
	if name := r.Name(157); name != "Yasuo" {
		t.Errorf("Name(157) = %q, want Yasuo", name)
	}

	if NeedsRefresh(store) {
		t.Error("freshly written store should not need a refresh")
	}
}

func TestRegistryRefreshNoVersions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(ts.Close)

	r := NewRegistry(zap.NewNop())
	r.baseURL = ts.URL
	if err := r.Refresh(nil); err == nil {
		t.Fatal("expected error when no versions are available")
	}
}

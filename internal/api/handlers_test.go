package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/pkg/oshandler"
)

func newTestServer(store *mockStorage, runner *stubRunner, prober *stubProber) *httptest.Server {
	handler := NewHandler(store, runner)
	if prober != nil {
		handler.proberFor = func(address, community string) VLANProber { return prober }
	}
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func seedTarget(store *mockStorage, id, name string) *model.Target {
	target := &model.Target{
		ID:            id,
		Name:          name,
		Transport:     "ssh",
		Address:       "192.168.1.10",
		SwitchAddress: "10.0.0.1",
	}
	store.targets[id] = target
	return target
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateAndGetTarget(t *testing.T) {
	store := newMockStorage()
	srv := newTestServer(store, &stubRunner{}, nil)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/targets", map[string]any{
		"name":      "web01",
		"transport": "ssh",
		"address":   "192.168.1.10",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[model.Target](t, resp)
	if created.ID == "" {
		t.Fatal("ID not assigned")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/targets/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[model.Target](t, resp)
	if got.Name != "web01" {
		t.Errorf("name = %q, want web01", got.Name)
	}
}

func TestCreateTargetValidation(t *testing.T) {
	store := newMockStorage()
	srv := newTestServer(store, &stubRunner{}, nil)
	defer srv.Close()

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing name", map[string]any{"transport": "ssh"}, http.StatusBadRequest},
		{"bad transport", map[string]any{"name": "x", "transport": "telnet"}, http.StatusBadRequest},
		{"valid", map[string]any{"name": "x", "transport": "docker", "address": "abc123"}, http.StatusCreated},
		{"duplicate name", map[string]any{"name": "x", "transport": "ssh"}, http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/targets", tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestGetMissingTarget(t *testing.T) {
	srv := newTestServer(newMockStorage(), &stubRunner{}, nil)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/targets/nope", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteTarget(t *testing.T) {
	store := newMockStorage()
	seedTarget(store, "t1", "web01")
	srv := newTestServer(store, &stubRunner{}, nil)
	defer srv.Close()

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/targets/t1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/targets/t1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestRunCommand(t *testing.T) {
	store := newMockStorage()
	seedTarget(store, "t1", "web01")
	runner := &stubRunner{result: oshandler.Result{
		Stdout:   "up 3 days",
		ExitCode: 0,
		Success:  true,
	}}
	srv := newTestServer(store, runner, nil)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/targets/t1/run", map[string]any{
		"command": "uptime",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	result := decodeBody[oshandler.Result](t, resp)
	if !result.Success || result.Stdout != "up 3 days" {
		t.Errorf("unexpected result %+v", result)
	}
	if runner.lastCommand != "uptime" {
		t.Errorf("runner got command %q", runner.lastCommand)
	}
}

func TestRunCommandRequiresBody(t *testing.T) {
	store := newMockStorage()
	seedTarget(store, "t1", "web01")
	srv := newTestServer(store, &stubRunner{}, nil)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/targets/t1/run", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConfigureNetworkPassesConfig(t *testing.T) {
	store := newMockStorage()
	seedTarget(store, "t1", "web01")
	runner := &stubRunner{result: oshandler.Result{Success: true}}
	srv := newTestServer(store, runner, nil)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/targets/t1/network", map[string]any{
		"interface":  "eth0",
		"ip_address": "10.0.100.5",
		"netmask":    "255.255.255.0",
		"vlan_id":    100,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if runner.lastConfig.VLANID != 100 || runner.lastConfig.Interface != "eth0" {
		t.Errorf("runner got config %+v", runner.lastConfig)
	}
}

func TestVerifyVLAN(t *testing.T) {
	store := newMockStorage()
	seedTarget(store, "t1", "web01")
	srv := newTestServer(store, &stubRunner{}, &stubProber{present: true})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/targets/t1/verify-vlan", map[string]any{
		"vlan_id": 100,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	result := decodeBody[verifyVLANResponse](t, resp)
	if !result.Present || result.VLANID != 100 || result.Switch != "10.0.0.1" {
		t.Errorf("unexpected response %+v", result)
	}
}

func TestVerifyVLANWithoutSwitch(t *testing.T) {
	store := newMockStorage()
	target := seedTarget(store, "t1", "web01")
	target.SwitchAddress = ""
	srv := newTestServer(store, &stubRunner{}, &stubProber{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/targets/t1/verify-vlan", map[string]any{
		"vlan_id": 100,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListOperationsHonorsLimit(t *testing.T) {
	store := newMockStorage()
	seedTarget(store, "t1", "web01")
	for i := 0; i < 5; i++ {
		store.operations = append(store.operations, &model.OperationRecord{
			ID: "op", TargetID: "t1", Command: "echo",
		})
	}
	srv := newTestServer(store, &stubRunner{}, nil)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/targets/t1/operations?limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	ops := decodeBody[[]model.OperationRecord](t, resp)
	if len(ops) != 2 {
		t.Errorf("got %d operations, want 2", len(ops))
	}
}

// Copyright (C) 2023 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(2)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	w := serve(t, http.MethodGet, "/api/v1/ping", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d; want 200", w.Code)
	}
	var res map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || res["message"] != "pong" {
		t.Errorf("body %s; want pong", w.Body.String())
	}
}

func TestOperators(t *testing.T) {
	w := serve(t, http.MethodGet, "/api/v1/operators", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tsImage") {
		t.Errorf("status %d body %s; want operator list with tsImage", w.Code, w.Body.String())
	}
}

func TestRun(t *testing.T) {
	body := `{"type":"seq", "active":true, "steps":[
		{"type":"simulate", "active":true, "width":21, "height":21, "binSize":0.02, "background":2,
		 "exposure":1e12, "psf":{"psf1":{"fwhm":3, "ampl":1}}, "sources":[{"x":10, "y":10, "flux":3e-10}]},
		{"type":"tsImage", "active":true, "psf":{"psf1":{"fwhm":3, "ampl":1}}, "outputs":["ts"]},
		{"type":"tsStats", "active":true}]}`
	w := serve(t, http.MethodPost, "/api/v1/run", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d; want 200", w.Code)
	}
	out := w.Body.String()
	for _, want := range []string{"Arguments:", "Simulated counts 21x21", "sqrt_ts over", "Done, 1 results."} {
		if !strings.Contains(out, want) {
			t.Errorf("response lacks %q:\n%s", want, out)
		}
	}
}

func TestRunRejectsAbsolutePaths(t *testing.T) {
	body := `{"type":"seq", "active":true, "steps":[{"type":"load", "active":true, "files":{"counts":"/etc/passwd"}}]}`
	w := serve(t, http.MethodPost, "/api/v1/run", body)
	if !strings.Contains(w.Body.String(), "path outside current directory tree") {
		t.Errorf("response %s; want path error", w.Body.String())
	}
}

func TestRunBadRequest(t *testing.T) {
	w := serve(t, http.MethodPost, "/api/v1/run", `{"type":"seq", "steps":[{"type":"stack"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d; want 400", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	serve(t, http.MethodGet, "/api/v1/ping", "")
	w := serve(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "gammalight_http_requests_total") {
		t.Errorf("status %d; want metrics with request counter", w.Code)
	}
}

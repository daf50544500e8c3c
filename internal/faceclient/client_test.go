package faceclient

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"smartattendance/internal/apperr"
	"smartattendance/internal/face"
)

func TestExtractNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("path = %s, want /embed", r.URL.Path)
		}
		var body struct {
			Image []byte    `json:"image"`
			Box   *face.Box `json:"box"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if string(body.Image) != "jpeg" || body.Box == nil || body.Box.Width != 10 {
			t.Errorf("unexpected request body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding":      []float32{3, 4},
			"faces_detected": 1,
		})
	}))
	defer srv.Close()

	emb, err := New(srv.URL, 0).Extract(context.Background(), []byte("jpeg"), face.Box{Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(emb) != 2 || math.Abs(emb[0]-0.6) > 1e-6 || math.Abs(emb[1]-0.8) > 1e-6 {
		t.Errorf("Extract = %v, want [0.6 0.8]", emb)
	}
}

func TestDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding":      []float32{1},
			"faces_detected": 1,
			"quality": map[string]any{
				"pose_yaw":  12.5,
				"pose_roll": -3,
				"box":       map[string]int{"left": 1, "top": 2, "width": 150, "height": 160},
			},
		})
	}))
	defer srv.Close()

	d, err := New(srv.URL, 0).Detect(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if d == nil || d.Yaw != 12.5 || d.Box.Height != 160 || d.LeftEyeOpen != nil {
		t.Errorf("Detect = %+v", d)
	}
}

func TestServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   apperr.Code
	}{
		{"unprocessable image", http.StatusUnprocessableEntity, apperr.CodeVerificationError},
		{"server error", http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()
			_, err := New(srv.URL, 0).Extract(context.Background(), []byte("x"), face.Box{})
			if err == nil {
				t.Fatal("Extract succeeded, want error")
			}
			if got := apperr.CodeOf(err); got != tt.code {
				t.Errorf("CodeOf = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if err := New(srv.URL, 0).Health(context.Background()); err == nil {
		t.Error("Health on 503 = nil, want error")
	}
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camfeed/internal/camera"
	"github.com/smazurov/camfeed/internal/mjpeg"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// feedServer streams the same JPEG until the client goes away.
func feedServer(t *testing.T, frame []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := mjpeg.NewWriter(w, time.Second)
		mw.WriteHeader()
		for r.Context().Err() == nil {
			if err := mw.WritePart(frame); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGrab(t *testing.T) {
	frame := testJPEG(t)
	srv := feedServer(t, frame)
	dir := filepath.Join(t.TempDir(), "out")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	paths, err := Grab(ctx, srv.URL, 3, dir)
	if err != nil {
		t.Fatalf("Grab() error = %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("wrote %d files, want 3", len(paths))
	}
	if filepath.Base(paths[2]) != "frame-0003.jpg" {
		t.Errorf("third file = %s", paths[2])
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, frame) {
			t.Errorf("%s differs from the streamed frame", p)
		}
	}
}

func TestGrabRejectsNonMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	_, err := Grab(context.Background(), srv.URL, 1, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "not a multipart stream") {
		t.Errorf("Grab() error = %v, want not a multipart stream", err)
	}
}

func TestGrabHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "camera unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Grab(context.Background(), srv.URL, 1, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Grab() error = %v, want the HTTP status", err)
	}
}

func TestGrabCommand(t *testing.T) {
	srv := feedServer(t, testJPEG(t))
	dir := t.TempDir()

	c := CreateGrabCmd()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs([]string{"--url", srv.URL, "-n", "2", "-o", dir})

	if err := c.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	lines := strings.Fields(out.String())
	if len(lines) != 2 {
		t.Errorf("output = %q, want two paths", out.String())
	}
}

type fakeProber struct {
	picamera string
	v4l2     bool
}

func (p fakeProber) PicameraCommand() (string, bool) { return p.picamera, p.picamera != "" }
func (p fakeProber) V4L2Available() bool             { return p.v4l2 }

func TestProbeCommand(t *testing.T) {
	missingConfig := filepath.Join(t.TempDir(), "none.toml")

	tests := []struct {
		name     string
		prober   fakeProber
		env      string
		args     []string
		wantOut  string
		wantErr  error
		wantNone bool
	}{
		{
			name:    "auto falls back to v4l2",
			prober:  fakeProber{v4l2: true},
			wantOut: "resolved:   v4l2",
		},
		{
			name:    "auto prefers picamera",
			prober:  fakeProber{picamera: "/usr/bin/rpicam-vid", v4l2: true},
			wantOut: "resolved:   picamera",
		},
		{
			name:     "env forces unavailable picamera",
			prober:   fakeProber{v4l2: true},
			env:      "picamera",
			wantErr:  camera.ErrBackendUnavailable,
			wantNone: true,
		},
		{
			name:    "flag beats env",
			prober:  fakeProber{v4l2: true},
			env:     "picamera",
			args:    []string{"--backend", "v4l2"},
			wantOut: "resolved:   v4l2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CAM_BACKEND", tt.env)
			if tt.env == "" {
				os.Unsetenv("CAM_BACKEND")
			}

			c := newProbeCmd(tt.prober)
			var out bytes.Buffer
			c.SetOut(&out)
			c.SetErr(&out)
			c.SetArgs(append([]string{"--config", missingConfig}, tt.args...))

			err := c.Execute()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Execute() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantOut != "" && !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output = %q, want %q", out.String(), tt.wantOut)
			}
			if tt.wantNone && !strings.Contains(out.String(), "resolved:   none") {
				t.Errorf("output = %q, want resolved none", out.String())
			}
		})
	}
}

func TestVersionCommandJSON(t *testing.T) {
	c := CreateVersionCmd()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs([]string{"--json"})

	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if info["version"] == "" || info["platform"] == "" {
		t.Errorf("info = %v", info)
	}
}

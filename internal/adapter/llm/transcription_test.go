package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmcourier/internal/domain"
)

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q, want whisper-1", got)
		}
		if got := r.FormValue("language"); got != "" {
			t.Errorf("unexpected language field %q", got)
		}

		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if header.Filename != "meeting.mp3" {
			t.Errorf("filename = %q", header.Filename)
		}
		content, _ := io.ReadAll(f)
		if string(content) != "fake-audio-bytes" {
			t.Errorf("file content = %q", content)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hello from the meeting"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Transcribe(context.Background(), domain.TranscriptionRequest{
		Model:    "whisper-1",
		Audio:    strings.NewReader("fake-audio-bytes"),
		Filename: "meeting.mp3",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "hello from the meeting" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestTranscribeOptionalFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q, want en", got)
		}
		if got := r.FormValue("prompt"); got != "LLM, SSE" {
			t.Errorf("prompt = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Transcribe(context.Background(), domain.TranscriptionRequest{
		Audio:    strings.NewReader("bytes"),
		Language: "en",
		Prompt:   "LLM, SSE",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestTranscribeDefaultsModelAndFilename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "gpt-4o-mini" {
			t.Errorf("model = %q, want client default", got)
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if header.Filename != "audio" {
			t.Errorf("filename = %q, want fallback", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Transcribe(context.Background(), domain.TranscriptionRequest{
		Audio: strings.NewReader("bytes"),
	}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestTranscribeNoAudio(t *testing.T) {
	client := newTestClient("http://localhost:0")
	_, err := client.Transcribe(context.Background(), domain.TranscriptionRequest{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestTranscribeHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Transcribe(context.Background(), domain.TranscriptionRequest{
		Audio: strings.NewReader("bytes"),
	})
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("err = %v, want ErrRateLimit", err)
	}
}

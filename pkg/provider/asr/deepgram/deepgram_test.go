package deepgram

import (
	"net/url"
	"testing"
	"time"

	"github.com/kaizen403/vivavoce/pkg/provider/asr"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := asr.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
		Punctuate:  true,
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_CfgOverridesProviderDefaults(t *testing.T) {
	p, err := New("key", WithLanguage("en"), WithModel("nova-3"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{Language: "fr-FR", Model: "base", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
	assertEqual(t, "model", "base", u.Query().Get("model"))
}

func TestBuildURL_RecognitionFlags(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := asr.StreamConfig{
		SampleRate:    16000,
		SmartFormat:   true,
		Diarize:       true,
		Utterances:    true,
		EndpointingMs: 300,
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "diarize", "true", q.Get("diarize"))
	assertEqual(t, "utterances", "true", q.Get("utterances"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
}

func TestBuildURL_FlagsOmittedWhenOff(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	for _, key := range []string{"punctuate", "smart_format", "diarize", "utterances", "endpointing"} {
		if q.Has(key) {
			t.Errorf("expected %q to be omitted, got %q", key, q.Get(key))
		}
	}
}

// ---- response parsing tests ----

func TestParseResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"duration": 2.25,
		"channel": {
			"alternatives": [{
				"transcript": "the cache is write-through",
				"confidence": 0.97,
				"words": [
					{"word": "the", "start": 1.5, "end": 1.6, "confidence": 0.99},
					{"word": "cache", "start": 1.6, "end": 1.9, "confidence": 0.95}
				]
			}]
		}
	}`)

	tr, ok := parseResponse(raw)
	if !ok {
		t.Fatal("parseResponse returned ok=false")
	}
	if !tr.IsFinal {
		t.Error("expected final transcript")
	}
	if tr.Text != "the cache is write-through" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Confidence != 0.97 {
		t.Errorf("Confidence = %v", tr.Confidence)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(tr.Words))
	}
	if tr.Words[1].Start != 1600*time.Millisecond {
		t.Errorf("word start = %v, want 1.6s", tr.Words[1].Start)
	}
	if tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("Timestamp = %v, want 1.5s", tr.Timestamp)
	}
	if tr.Duration != 2250*time.Millisecond {
		t.Errorf("Duration = %v, want 2.25s", tr.Duration)
	}
}

func TestParseResponse_Interim(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "the ca", "confidence": 0.5}]}
	}`)

	tr, ok := parseResponse(raw)
	if !ok {
		t.Fatal("parseResponse returned ok=false")
	}
	if tr.IsFinal {
		t.Error("expected interim transcript")
	}
	if tr.Text != "the ca" {
		t.Errorf("Text = %q", tr.Text)
	}
}

func TestParseResponse_Ignored(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"metadata event", `{"type": "Metadata"}`},
		{"no alternatives", `{"type": "Results", "channel": {"alternatives": []}}`},
		{"invalid json", `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseResponse([]byte(tt.raw)); ok {
				t.Error("expected message to be ignored")
			}
		})
	}
}

// ---- constructor tests ----

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

// assertEqual fails the test if got != want for the named query parameter.
func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}

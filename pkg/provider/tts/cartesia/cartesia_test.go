package cartesia

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/kaizen403/vivavoce/pkg/provider/tts"
)

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestBuildURL(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw := p.buildURL()
	if !strings.HasPrefix(raw, wsEndpoint+"?") {
		t.Fatalf("unexpected endpoint: %s", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()
	if q.Get("api_key") != "test-key" {
		t.Errorf("api_key = %q", q.Get("api_key"))
	}
	if q.Get("cartesia_version") != apiVersion {
		t.Errorf("cartesia_version = %q", q.Get("cartesia_version"))
	}
}

func TestBuildRequest_Continued(t *testing.T) {
	p, err := New("key", WithModel("sonic-turbo"), WithSampleRate(24000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	voice := tts.Voice{ID: "voice-1", Language: "de", Speed: 1.2}
	req := p.buildRequest("Hello there.", voice, "ctx-abc", true)

	if req.ModelID != "sonic-turbo" {
		t.Errorf("ModelID = %q", req.ModelID)
	}
	if req.Transcript != "Hello there." {
		t.Errorf("Transcript = %q", req.Transcript)
	}
	if req.Voice.Mode != "id" || req.Voice.ID != "voice-1" {
		t.Errorf("Voice = %+v", req.Voice)
	}
	if req.OutputFormat.Encoding != "pcm_s16le" || req.OutputFormat.SampleRate != 24000 {
		t.Errorf("OutputFormat = %+v", req.OutputFormat)
	}
	if req.Language != "de" {
		t.Errorf("Language = %q", req.Language)
	}
	if !req.Continue {
		t.Error("Continue should be true for a mid-context fragment")
	}
	if req.Speed != 1.2 {
		t.Errorf("Speed = %v", req.Speed)
	}
}

func TestBuildRequest_Terminator(t *testing.T) {
	p, _ := New("key")

	req := p.buildRequest("", tts.Voice{ID: "voice-1"}, "ctx-abc", false)
	if req.Continue {
		t.Error("Continue should be false on the terminating message")
	}
	if req.Transcript != "" {
		t.Errorf("Transcript = %q, want empty", req.Transcript)
	}
	if req.Language != defaultLanguage {
		t.Errorf("Language = %q, want default", req.Language)
	}
	if req.Speed != 0 {
		t.Errorf("Speed = %v, want omitted for default rate", req.Speed)
	}
}

func TestBuildRequest_JSONShape(t *testing.T) {
	p, _ := New("key")

	req := p.buildRequest("hi", tts.Voice{ID: "v"}, "ctx-1", true)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"model_id", "transcript", "voice", "output_format", "context_id", "continue"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected JSON key %q", key)
		}
	}
	if _, ok := m["speed"]; ok {
		t.Error("speed should be omitted when unset")
	}
}

func TestNewContextID_Unique(t *testing.T) {
	a, b := newContextID(), newContextID()
	if a == b {
		t.Error("context ids should be unique")
	}
	if !strings.HasPrefix(a, "ctx-") {
		t.Errorf("context id %q missing prefix", a)
	}
}

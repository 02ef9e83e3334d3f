package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestThemed_PicksByKeyword(t *testing.T) {
	g := NewThemed()
	tests := []struct {
		prompt string
		want   string
	}{
		{"A pint of Ice Cream with sprinkles", DefaultThemes[0].ImageURL},
		{"coca cola style can", DefaultThemes[1].ImageURL},
		{"holiday gift box", DefaultThemes[2].ImageURL},
		{"protein bar wrapper", DefaultThemeImage},
	}
	for _, tt := range tests {
		res := g.Generate(context.Background(), tt.prompt)
		if !res.Success || res.ImageURL != tt.want {
			t.Errorf("Generate(%q) = %+v, want %s", tt.prompt, res, tt.want)
		}
	}
}

func TestChain_FirstSuccessWins(t *testing.T) {
	calls := 0
	failing := Func(func(context.Context, string) Result {
		calls++
		return Failed("quota exceeded")
	})
	ok := Func(func(context.Context, string) Result {
		calls++
		return Result{Success: true, ImageURL: "https://cdn.example/x.png"}
	})
	never := Func(func(context.Context, string) Result {
		t.Error("Expected chain to stop at first success")
		return Result{}
	})

	res := Chain{failing, ok, never}.Generate(context.Background(), "box")
	if !res.Success || res.ImageURL != "https://cdn.example/x.png" {
		t.Fatalf("Unexpected result: %+v", res)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestChain_AllFail(t *testing.T) {
	res := Chain{
		Func(func(context.Context, string) Result { return Failed("a down") }),
		Func(func(context.Context, string) Result { return Failed("b down") }),
	}.Generate(context.Background(), "box")

	if res.Success {
		t.Fatal("Expected failure")
	}
	if !strings.Contains(res.Error, "a down") || !strings.Contains(res.Error, "b down") {
		t.Errorf("Expected both details, got %q", res.Error)
	}

	if res := (Chain{}).Generate(context.Background(), "box"); res.Success {
		t.Error("Expected empty chain to fail")
	}
}

func TestOpenAI_ReturnsInlinePNG(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/images/generations") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Prompt         string `json:"prompt"`
			ResponseFormat string `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPrompt = body.Prompt
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"b64_json":"aGVsbG8="}]}`))
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	res := g.Generate(context.Background(), "oat milk carton")

	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.ImageURL != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("Unexpected image URL %q", res.ImageURL)
	}
	if !strings.Contains(gotPrompt, "oat milk carton") || !strings.HasPrefix(gotPrompt, "High quality product photography") {
		t.Errorf("Expected enhanced prompt, got %q", gotPrompt)
	}
}

func TestOpenAI_FailureIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	res := g.Generate(context.Background(), "box")
	if res.Success || res.Error == "" {
		t.Errorf("Expected reported failure, got %+v", res)
	}
}

package captcha

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGenerateSecret(t *testing.T) {
	for i := 0; i < 200; i++ {
		secret := GenerateSecret(6, DefaultAlphabet)
		if len(secret) != 6 {
			t.Fatalf("expected 6 symbols, got %q", secret)
		}
		for _, r := range secret {
			if !strings.ContainsRune(DefaultAlphabet, r) {
				t.Fatalf("symbol %q outside alphabet", r)
			}
		}
	}
	if got := GenerateSecret(0, ""); len(got) != DefaultLength {
		t.Fatalf("expected default length, got %q", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"a b-C":    "ABC",
		" x7k_9! ": "X7K9",
		"ÄBC":      "BC",
		"":         "",
	}
	for in, want := range cases {
		got := Normalize(in)
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
		if again := Normalize(got); again != got {
			t.Fatalf("Normalize not idempotent for %q: %q", in, again)
		}
	}
}

func TestMatches(t *testing.T) {
	if !Matches("a b-C", "ABC") {
		t.Fatalf("expected loose input to match")
	}
	if Matches("ABD", "ABC") {
		t.Fatalf("expected mismatch")
	}
	if Matches("   ", "") {
		t.Fatalf("empty answers must not match")
	}
}

func TestMathChallenge(t *testing.T) {
	for i := 0; i < 100; i++ {
		ch := NewMathChallenge()
		fields := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(ch.Question, "What is "), "?"))
		if len(fields) != 3 {
			t.Fatalf("unexpected question %q", ch.Question)
		}
		a, _ := strconv.Atoi(fields[0])
		b, _ := strconv.Atoi(fields[2])
		var want int
		switch fields[1] {
		case "+":
			want = a + b
		case "-":
			want = a - b
		case "×":
			if a < 1 || a > 10 || b < 1 || b > 10 {
				t.Fatalf("multiplication operands out of range: %q", ch.Question)
			}
			want = a * b
		default:
			t.Fatalf("unexpected operator in %q", ch.Question)
		}
		if want < 0 || ch.Answer != strconv.Itoa(want) {
			t.Fatalf("question %q answer %q, want %d", ch.Question, ch.Answer, want)
		}
	}
}

type failingAvatars struct{ calls int }

func (f *failingAvatars) Fetch(ctx context.Context, url string) (image.Image, error) {
	f.calls++
	return nil, errors.New("timeout")
}

type solidAvatars struct{}

func (solidAvatars) Fetch(ctx context.Context, url string) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	return img, nil
}

func TestRenderProducesPNG(t *testing.T) {
	renderer, err := NewRenderer(solidAvatars{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	data, err := renderer.Render(context.Background(), "ABC234", "https://cdn.discordapp.com/a.png")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != canvasWidth || img.Bounds().Dy() != canvasHeight {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
	r, _, _, _ := img.At(avatarX+avatarSize/2, canvasHeight/2).RGBA()
	if r>>8 < 100 {
		t.Fatalf("expected avatar pixel at centre of circle, got red=%d", r>>8)
	}
}

func TestRenderSurvivesAvatarFailure(t *testing.T) {
	avatars := &failingAvatars{}
	renderer, err := NewRenderer(avatars, zap.NewNop())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	data, err := renderer.Render(context.Background(), "ZZZZZZZZZZ", "https://cdn.discordapp.com/a.png")
	if err != nil || len(data) == 0 {
		t.Fatalf("expected image despite avatar failure, err=%v", err)
	}
	if avatars.calls != 1 {
		t.Fatalf("expected one fetch, got %d", avatars.calls)
	}
}

func TestRenderRejectsEmptySecret(t *testing.T) {
	renderer, err := NewRenderer(nil, nil)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	if _, err := renderer.Render(context.Background(), "", ""); !errors.Is(err, ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
}

func TestHTTPAvatarSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ok.png" {
			http.NotFound(w, r)
			return
		}
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		_ = png.Encode(w, img)
	}))
	defer server.Close()

	source := NewHTTPAvatarSource(time.Second, nil)
	img, err := source.Fetch(context.Background(), server.URL+"/ok.png")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if _, err := source.Fetch(context.Background(), server.URL+"/missing.png"); err == nil {
		t.Fatalf("expected error for 404")
	}

	restricted := NewHTTPAvatarSource(time.Second, DiscordAvatarHosts)
	if _, err := restricted.Fetch(context.Background(), server.URL+"/ok.png"); err == nil {
		t.Fatalf("expected untrusted host error")
	}
}

func TestRenderDoesNotWaitForSlowAvatar(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	renderer, err := NewRenderer(NewHTTPAvatarSource(5*time.Second, nil), zap.NewNop())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	renderer.WithAvatarBudget(200 * time.Millisecond)

	start := time.Now()
	data, err := renderer.Render(context.Background(), "ABC234", server.URL+"/slow.png")
	took := time.Since(start)
	if err != nil || len(data) == 0 {
		t.Fatalf("expected image without avatar, err=%v", err)
	}
	if took > 2*time.Second {
		t.Fatalf("render waited %v for the avatar", took)
	}
}

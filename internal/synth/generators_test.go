package synth_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lionelramela/deafcare/internal/cache"
	"github.com/lionelramela/deafcare/internal/synth"
	"github.com/lionelramela/deafcare/pkg/inference"
	"github.com/lionelramela/deafcare/pkg/inference/mock"
)

var png = inference.Blob{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

func TestAlphabetGenerator_ImageAndDescription(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{ImageResult: png, TextResult: "  Make a fist with the thumb at the side.  "}
	g := &synth.AlphabetGenerator{Service: svc}

	e, err := g.Generate(context.Background(), "A")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if e.Description != "Make a fist with the thumb at the side." {
		t.Errorf("description = %q", e.Description)
	}
	if string(e.Artifact.Data) != string(png.Data) {
		t.Errorf("artifact = %v", e.Artifact.Data)
	}
	if len(svc.ImageCalls) != 1 || svc.ImageCalls[0].AspectRatio != "1:1" {
		t.Errorf("image calls = %+v", svc.ImageCalls)
	}
	if !strings.Contains(svc.ImageCalls[0].Prompt, "letter 'A'") {
		t.Errorf("image prompt = %q", svc.ImageCalls[0].Prompt)
	}
	if len(svc.TextCalls) != 1 || !strings.Contains(svc.TextCalls[0].Prompt, "letter 'A'") {
		t.Errorf("text calls = %+v", svc.TextCalls)
	}
}

func TestAlphabetGenerator_DescriptionFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		textErr error
	}{
		{name: "text error", textErr: errors.New("quota")},
		{name: "empty text", text: "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &mock.Service{ImageResult: png, TextResult: tt.text, TextErr: tt.textErr}
			e, err := (&synth.AlphabetGenerator{Service: svc}).Generate(context.Background(), "B")
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if e.Description != synth.DefaultDescription {
				t.Errorf("description = %q, want %q", e.Description, synth.DefaultDescription)
			}
		})
	}
}

func TestAlphabetGenerator_MissingImageFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		image   inference.Blob
		err     error
		wantErr error
	}{
		{name: "provider error", err: inference.ErrNoImage, wantErr: inference.ErrNoImage},
		{name: "empty image", wantErr: inference.ErrNoImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &mock.Service{ImageResult: tt.image, ImageErr: tt.err, TextResult: "ok"}
			_, err := (&synth.AlphabetGenerator{Service: svc}).Generate(context.Background(), "C")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlphabetGenerator_FailedImageIsNotCached(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{ImageErr: errors.New("blocked"), TextResult: "ok"}
	store := cache.NewMemoryStore()
	c := newController(t, store, &synth.AlphabetGenerator{Service: svc})

	if _, err := c.Get(context.Background(), "Z"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := c.Lookup("Z"); ok {
		t.Error("Z should not be cached")
	}
	if store.Saves() != 0 {
		t.Errorf("saves = %d, want 0", store.Saves())
	}
}

func TestWordGenerator_PromptKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want string
	}{
		{key: "K", want: "ASL sign for letter K."},
		{key: "HELLO", want: "ASL sign for word HELLO."},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			svc := &mock.Service{ImageResult: png}
			e, err := (&synth.WordGenerator{Images: svc}).Generate(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if e.Description != "" {
				t.Errorf("description = %q, want empty", e.Description)
			}
			if got := svc.ImageCalls[0].Prompt; !strings.HasPrefix(got, tt.want) {
				t.Errorf("prompt = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()

	for _, k := range synth.AlphabetKeys() {
		if err := synth.ValidateLetter(k); err != nil {
			t.Errorf("ValidateLetter(%q): %v", k, err)
		}
	}
	for _, k := range []string{"AA", "1", "a", "É"} {
		if err := synth.ValidateLetter(k); err == nil {
			t.Errorf("ValidateLetter(%q) accepted", k)
		}
	}
	if err := synth.ValidateTerm("THANK YOU"); err != nil {
		t.Errorf("ValidateTerm: %v", err)
	}
	if err := synth.ValidateTerm("A\nB"); err == nil {
		t.Error("ValidateTerm accepted a line break")
	}
}

package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lionelramela/deafcare/internal/cache"
	"github.com/lionelramela/deafcare/pkg/inference"
)

// DefaultDescription is used when the instruction text is unavailable.
const DefaultDescription = "Instruction not available."

const (
	letterImagePrompt = "A high-quality educational illustration of a human hand performing the American Sign Language (ASL) sign for the letter '%s'. " +
		"Style: Minimalist, professional medical diagram. Lighting: High contrast, clear shadows. White background."
	letterTextPrompt = "Provide a precise 1-sentence physical instruction for forming the ASL handshape for the letter '%s'."
	signImagePrompt  = "ASL sign for %s %s. Pure white background, high contrast handshape, 4K education quality."

	squareAspect = "1:1"
)

// AlphabetKeys returns the fingerspelling alphabet A to Z.
func AlphabetKeys() []string {
	keys := make([]string, 0, 26)
	for r := 'A'; r <= 'Z'; r++ {
		keys = append(keys, string(r))
	}
	return keys
}

// ValidateLetter accepts a single letter A to Z.
func ValidateLetter(key string) error {
	if len(key) != 1 || key[0] < 'A' || key[0] > 'Z' {
		return errors.New("must be a single letter A-Z")
	}
	return nil
}

// ValidateTerm accepts any non-empty word or letter without line breaks.
func ValidateTerm(key string) error {
	if strings.ContainsAny(key, "\r\n") {
		return errors.New("must be a single line")
	}
	return nil
}

// AlphabetService is the subset of the inference service used for letters.
type AlphabetService interface {
	inference.TextCompleter
	inference.ImageGenerator
}

// AlphabetGenerator produces a letter's illustration and a one-sentence
// handshape instruction. Both requests run concurrently. A missing image is
// an error; a missing instruction falls back to [DefaultDescription].
type AlphabetGenerator struct {
	Service AlphabetService
}

var _ Generator = (*AlphabetGenerator)(nil)

// Generate implements Generator.
func (g *AlphabetGenerator) Generate(ctx context.Context, key string) (cache.Entry, error) {
	var (
		image inference.Blob
		text  string
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		image, err = g.Service.CompleteImage(egCtx, fmt.Sprintf(letterImagePrompt, key), squareAspect)
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		if len(image.Data) == 0 {
			return inference.ErrNoImage
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		text, err = g.Service.CompleteText(egCtx, inference.TextRequest{Prompt: fmt.Sprintf(letterTextPrompt, key)})
		if err != nil && egCtx.Err() == nil {
			slog.Warn("synth: instruction text unavailable", "key", key, "err", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return cache.Entry{}, err
	}

	desc := strings.TrimSpace(text)
	if desc == "" {
		desc = DefaultDescription
	}
	return cache.Entry{Key: key, Artifact: image, Description: desc}, nil
}

// WordGenerator produces a single sign image for a word or letter, as used
// by the sign keyboard.
type WordGenerator struct {
	Images inference.ImageGenerator
}

var _ Generator = (*WordGenerator)(nil)

// Generate implements Generator.
func (g *WordGenerator) Generate(ctx context.Context, key string) (cache.Entry, error) {
	kind := "word"
	if len([]rune(key)) == 1 {
		kind = "letter"
	}
	image, err := g.Images.CompleteImage(ctx, fmt.Sprintf(signImagePrompt, kind, key), squareAspect)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("image: %w", err)
	}
	if len(image.Data) == 0 {
		return cache.Entry{}, inference.ErrNoImage
	}
	return cache.Entry{Key: key, Artifact: image}, nil
}

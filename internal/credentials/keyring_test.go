package credentials

import (
	"context"
	"errors"
	"testing"
)

func TestNewKeyRing_DropsBlankAndDuplicates(t *testing.T) {
	kr := NewKeyRing([]string{" a ", "", "b", "a"}, nil)
	if kr.Len() != 2 {
		t.Fatalf("Len = %d, want 2", kr.Len())
	}
	key, err := kr.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if key != "a" {
		t.Errorf("Active = %q, want %q", key, "a")
	}
}

func TestKeyRing_EmptyActive(t *testing.T) {
	kr := NewKeyRing(nil, nil)
	if _, err := kr.Active(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
}

func TestKeyRing_RotatesAndWraps(t *testing.T) {
	kr := NewKeyRing([]string{"a", "b", "c"}, nil)
	want := []string{"b", "c", "a"}
	for i, w := range want {
		if err := kr.ResolveCredential(context.Background()); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		got, _ := kr.Active()
		if got != w {
			t.Errorf("after resolve %d: active = %q, want %q", i, got, w)
		}
	}
}

func TestKeyRing_SingleKeyWithoutPrompter(t *testing.T) {
	kr := NewKeyRing([]string{"only"}, nil)
	if err := kr.ResolveCredential(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestKeyRing_PromptsForNewKey(t *testing.T) {
	calls := 0
	kr := NewKeyRing([]string{"old"}, func(context.Context) (string, error) {
		calls++
		return "fresh", nil
	})
	if err := kr.ResolveCredential(context.Background()); err != nil {
		t.Fatalf("ResolveCredential: %v", err)
	}
	if calls != 1 {
		t.Errorf("prompter calls = %d, want 1", calls)
	}
	if got, _ := kr.Active(); got != "fresh" {
		t.Errorf("Active = %q, want %q", got, "fresh")
	}
}

func TestKeyRing_PromptReturnsSameKey(t *testing.T) {
	kr := NewKeyRing([]string{"old"}, func(context.Context) (string, error) {
		return "old", nil
	})
	if err := kr.ResolveCredential(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

package models

import (
	"errors"
	"testing"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("note", ErrMissingPostNote)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrMissingPostNote) {
		t.Fatalf("expected errors.Is to match ErrMissingPostNote, got %v", err)
	}
	if errors.Is(err, ErrMissingPostID) {
		t.Fatal("did not expect ErrMissingPostID to match")
	}
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("owner", "owner is required")

	validation := &ValidationErrors{}
	validation.Add("posts[2]", nested)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}

	list, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors type, got %T", err)
	}
	if len(list.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(list.Errors))
	}
	if list.Errors[0].Field != "posts[2].owner" {
		t.Fatalf("expected field posts[2].owner, got %q", list.Errors[0].Field)
	}
}

func TestValidationErrorsEmpty(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("id", nil)
	validation.AddMessage("id", "")
	if err := validation.Err(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

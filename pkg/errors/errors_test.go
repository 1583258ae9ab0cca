package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataTable(t *testing.T) {
	want := map[Code]Metadata{
		CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
		CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
		CodeConflict:      {HTTPStatus: http.StatusConflict, Retryable: true, PublicMessage: "conflict detected"},
		CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true},
		CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
		CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
		CodeDependency:    {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
		CodeConsistency:   {HTTPStatus: http.StatusInternalServerError, PublicMessage: "inventory consistency alarm raised"},
	}
	for code, meta := range want {
		if got := MetadataFor(code); got != meta {
			t.Errorf("%s: got %+v want %+v", code, got, meta)
		}
	}
	if got := MetadataFor("SOMETHING_UNKNOWN"); got != want[CodeInternal] {
		t.Errorf("unknown code should fall back to internal, got %+v", got)
	}
}

func TestErrorStringCarriesReason(t *testing.T) {
	plain := New(CodeNotFound, "lot missing")
	if got := plain.Error(); got != "NOT_FOUND: lot missing" {
		t.Fatalf("unexpected message %q", got)
	}
	tagged := New(CodeStateConflict, "folder closed").WithReason(ReasonFolderClosed)
	if got := tagged.Error(); got != fmt.Sprintf("STATE_CONFLICT(%s): folder closed", ReasonFolderClosed) {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestWrapKeepsCauseAndDetails(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeDependency, cause, "load catalog").WithDetails(map[string]any{"item_id": "abc"})

	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeDependency || wrapped.Message() != "load catalog" {
		t.Fatalf("unexpected error %v", wrapped)
	}
	if details, _ := wrapped.Details().(map[string]any); details["item_id"] != "abc" {
		t.Fatalf("details lost: %#v", wrapped.Details())
	}
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	if e.Code() != CodeInternal || e.Reason() != "" || e.Message() != "" || e.Details() != nil || e.Error() != "" {
		t.Fatal("nil accessors should read as an empty internal error")
	}
	if e.WithReason(ReasonNotFound) != nil || e.WithDetails("x") != nil || e.Unwrap() != nil {
		t.Fatal("nil builders should stay nil")
	}
}

func TestReasonHelpers(t *testing.T) {
	err := Conflict(ReasonInsufficientStock, "insufficient stock", map[string]any{"available": 3, "requested": 5})
	if err.Code() != CodeStateConflict || err.Reason() != ReasonInsufficientStock {
		t.Fatalf("unexpected conflict %v", err)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	switch {
	case !IsCode(wrapped, CodeStateConflict), IsCode(wrapped, CodeConflict):
		t.Fatal("IsCode should match only the carried code")
	case !HasReason(wrapped, ReasonInsufficientStock), HasReason(wrapped, ReasonLotRequired):
		t.Fatal("HasReason should match only the carried reason through wrapping")
	case IsCode(stdErrors.New("plain"), CodeInternal):
		t.Fatal("untyped errors carry no code")
	}

	invalid := Invalid("quantity must be positive", nil)
	if invalid.Code() != CodeValidation || invalid.Reason() != ReasonInvalidInput || invalid.Details() != nil {
		t.Fatalf("unexpected invalid error %v", invalid)
	}
	if missing := NotFound(ReasonNotFound, "inventory not found"); As(fmt.Errorf("x: %w", missing)) != missing {
		t.Fatal("As should unwrap to the typed error")
	}
	if As(nil) != nil {
		t.Fatal("As(nil) should return nil")
	}
}

package common

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

type sample struct {
	Label string `validate:"required"`
	Score []byte `validate:"required"`
}

func TestGenericEchoValidator(t *testing.T) {
	v := NewGenericEchoValidator()

	if err := v.Validate(&sample{Label: "Metal", Score: []byte("1")}); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}

	err := v.Validate(&sample{})
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", httpErr.Code)
	}
	msg, _ := httpErr.Message.(string)
	if !strings.Contains(msg, "label") || !strings.Contains(msg, "score") {
		t.Errorf("expected both fields in message, got %q", msg)
	}
}

func TestGenericEchoValidator_Concurrent(t *testing.T) {
	v := NewGenericEchoValidator()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs <- v.Validate(&sample{Label: "Metal", Score: []byte("1")})
				return
			}
			if err := v.Validate(&sample{}); err == nil {
				errs <- errors.New("expected validation error for empty sample")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestGenericEchoValidator_Unconfigured(t *testing.T) {
	v := &GenericEchoValidator{}
	if err := v.Validate(&sample{Label: "Metal", Score: []byte("1")}); err == nil {
		t.Fatalf("expected error from validator without a configured Validator")
	}
}

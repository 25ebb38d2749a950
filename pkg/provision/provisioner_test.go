package provision

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

func TestWrapCallErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want engine.ErrorClass
	}{
		{"unauthorized", &cloudapi.APIError{StatusCode: 401}, engine.ErrorClassAuthExpired},
		{"conflict", &cloudapi.APIError{StatusCode: 409}, engine.ErrorClassAlreadySatisfied},
		{"server failure", &cloudapi.APIError{StatusCode: 503}, engine.ErrorClassTransient},
		{"exhausted poll", &cloudapi.TimeoutError{Kind: "gateway", Checks: 10, Elapsed: time.Minute}, engine.ErrorClassTransient},
		{"bad request", &cloudapi.APIError{StatusCode: 400}, engine.ErrorClassFatal},
		{"plain error", errors.New("connection refused"), engine.ErrorClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapCallError("create gateway", fmt.Errorf("call failed: %w", tt.err))

			if got := engine.ClassOf(wrapped); got != tt.want {
				t.Errorf("ClassOf() = %s, want %s", got, tt.want)
			}

			var installErr *engine.InstallError
			if !errors.As(wrapped, &installErr) {
				t.Fatal("expected an InstallError in the chain")
			}
			if installErr.Operation != "create gateway" {
				t.Errorf("operation = %q, want create gateway", installErr.Operation)
			}
		})
	}
}

package core

import (
	"testing"

	"batchexports/internal/types"
)

type createRequest struct {
	Name     string `json:"name" validate:"required"`
	Interval string `json:"interval" validate:"required,export_interval"`
	Timezone string `json:"timezone" validate:"omitempty,is_timezone"`
	Hour     *int   `json:"offset_hour" validate:"omitempty,min=0,max=23"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator()
	hour := 25
	tests := []struct {
		name      string
		req       createRequest
		wantCode  types.ErrorCode
		wantField string
	}{
		{"valid", createRequest{Name: "n", Interval: "hour", Timezone: "Europe/Berlin"}, "", ""},
		{"missing name", createRequest{Interval: "hour"}, types.ErrCodeValidationMissingField, "name"},
		{"bad interval", createRequest{Name: "n", Interval: "fortnight"}, types.ErrCodeValidationInvalidInterval, "interval"},
		{"bad timezone", createRequest{Name: "n", Interval: "day", Timezone: "Mars/Olympus"}, types.ErrCodeValidationInvalidTimezone, "timezone"},
		{"hour out of range", createRequest{Name: "n", Interval: "day", Hour: &hour}, types.ErrCodeValidationInvalidInput, "offset_hour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.req)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			appErr, ok := err.(*types.AppError)
			if !ok {
				t.Fatalf("expected *AppError, got %T", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", appErr.Code, tt.wantCode)
			}
			fields, _ := appErr.Details["fields"].([]ValidationError)
			if len(fields) == 0 || fields[0].Field != tt.wantField {
				t.Errorf("fields = %+v, want first %q", fields, tt.wantField)
			}
		})
	}
}

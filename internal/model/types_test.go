package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAppointment_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  string
		wantErr bool
	}{
		{
			name:   "string id",
			input:  `{"appointmentId":"a-1","patientName":"Jane Roe","status":"CONFIRMED"}`,
			wantID: "a-1",
		},
		{
			name:   "numeric id",
			input:  `{"appointmentId":1042,"status":"PENDING"}`,
			wantID: "1042",
		},
		{
			name:   "missing id",
			input:  `{"status":"PENDING"}`,
			wantID: "",
		},
		{
			name:   "null id",
			input:  `{"appointmentId":null}`,
			wantID: "",
		},
		{
			name:    "object id",
			input:   `{"appointmentId":{"v":1}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `appointment`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Appointment
			err := json.Unmarshal([]byte(tt.input), &a)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got ID %q", a.ID)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if a.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", a.ID, tt.wantID)
			}
			if string(a.Raw) != tt.input {
				t.Errorf("Raw = %s, want %s", a.Raw, tt.input)
			}
		})
	}
}

func TestAppointment_MarshalKeepsOpaqueFields(t *testing.T) {
	input := `{"appointmentId":"a-7","patientName":"John Doe","startTime":"2024-05-02T09:30:00Z","urgent":true}`

	var a Appointment
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	out, err := json.Marshal([]Appointment{a})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "["+input+"]" {
		t.Errorf("Marshal = %s, want [%s]", out, input)
	}

	var view struct {
		PatientName string `json:"patientName"`
		Urgent      bool   `json:"urgent"`
	}
	if err := a.Decode(&view); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if view.PatientName != "John Doe" || !view.Urgent {
		t.Errorf("Decode = %+v", view)
	}
}

func TestAppointment_MarshalWithoutRaw(t *testing.T) {
	out, err := json.Marshal(Appointment{ID: "a-9"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `{"appointmentId":"a-9"}` {
		t.Errorf("Marshal = %s", out)
	}
}

func TestAppointment_Validate(t *testing.T) {
	if err := (Appointment{ID: "a-1"}).Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
	if err := (Appointment{ID: "  "}).Validate(); !errors.Is(err, ErrMissingID) {
		t.Errorf("Validate() = %v, want ErrMissingID", err)
	}
}

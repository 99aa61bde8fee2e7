package rails

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/fundverse/backend/internal/models"
)

func TestParamsValidator(t *testing.T) {
	v, err := NewParamsValidator()
	if err != nil {
		t.Fatalf("NewParamsValidator: %v", err)
	}

	tests := []struct {
		name   string
		rail   models.Rail
		params string
		ok     bool
	}{
		{"native ok", models.RailNative, `{"from_account":"acct-1"}`, true},
		{"native missing account", models.RailNative, `{}`, false},
		{"native empty params", models.RailNative, ``, false},
		{"native extra field", models.RailNative, `{"from_account":"a","memo":1}`, false},
		{"traditional ok", models.RailTraditional, `{"payment_method_id":"pm_1","account_identifier":"4111111111111111"}`, true},
		{"traditional wrong type", models.RailTraditional, `{"payment_method_id":12}`, false},
		{"equity ok", models.RailEquity, `{"deal_id":"deal-9"}`, true},
		{"equity empty deal", models.RailEquity, `{"deal_id":""}`, false},
		{"malformed json", models.RailEquity, `{"deal_id":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.rail, json.RawMessage(tt.params))
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("Validate: got %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestStateText(t *testing.T) {
	b, err := json.Marshal(Confirmation{State: Confirmed, Amount: 5})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(b); got != `{"state":"confirmed","amount":5}` {
		t.Errorf("got %s", got)
	}
}

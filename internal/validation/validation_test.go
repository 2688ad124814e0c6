package validation

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

func TestStruct(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		valid bool
	}{
		{
			name: "valid manual reconciliation",
			input: model.ManualReconciliation{
				SaleIDs:   []uuid.UUID{uuid.New()},
				PaymentID: uuid.New(),
				Adjustments: []model.AdjustmentInput{
					{Type: model.AdjustmentCommission, Amount: decimal.RequireFromString("-12.50")},
				},
			},
			valid: true,
		},
		{
			name: "empty sales selection",
			input: model.ManualReconciliation{
				PaymentID: uuid.New(),
			},
			valid: false,
		},
		{
			name: "missing payment",
			input: model.ManualReconciliation{
				SaleIDs: []uuid.UUID{uuid.New()},
			},
			valid: false,
		},
		{
			name: "unknown adjustment type",
			input: model.ManualReconciliation{
				SaleIDs:   []uuid.UUID{uuid.New()},
				PaymentID: uuid.New(),
				Adjustments: []model.AdjustmentInput{
					{Type: "discount", Amount: decimal.NewFromInt(5)},
				},
			},
			valid: false,
		},
		{
			name: "zero adjustment amount",
			input: model.ManualReconciliation{
				SaleIDs:   []uuid.UUID{uuid.New()},
				PaymentID: uuid.New(),
				Adjustments: []model.AdjustmentInput{
					{Type: model.AdjustmentShipping, Amount: decimal.Zero},
				},
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			if tt.valid && err != nil {
				t.Fatalf("Struct() unexpected error: %v", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatalf("Struct() expected error")
				}
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("Struct() error %v is not ErrInvalid", err)
				}
			}
		})
	}
}

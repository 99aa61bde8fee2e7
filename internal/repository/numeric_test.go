package repository

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestAmountDecoding(t *testing.T) {
	tests := []struct {
		name string
		in   pgtype.Numeric
		want uint64
		err  bool
	}{
		{"plain", pgtype.Numeric{Int: big.NewInt(120), Valid: true}, 120, false},
		{"positive exponent", pgtype.Numeric{Int: big.NewInt(12), Exp: 3, Valid: true}, 12000, false},
		{"whole negative exponent", pgtype.Numeric{Int: big.NewInt(1500), Exp: -2, Valid: true}, 15, false},
		{"fractional", pgtype.Numeric{Int: big.NewInt(1501), Exp: -2, Valid: true}, 0, true},
		{"max", numeric(^uint64(0)), ^uint64(0), false},
		{"overflow", pgtype.Numeric{Int: new(big.Int).Add(maxUint64, big.NewInt(1)), Valid: true}, 0, true},
		{"negative", pgtype.Numeric{Int: big.NewInt(-1), Valid: true}, 0, true},
		{"null", pgtype.Numeric{}, 0, true},
		{"nan", pgtype.Numeric{NaN: true, Valid: true}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := amount(tt.in)
			if tt.err {
				if err == nil {
					t.Fatalf("amount: want error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("amount: %v", err)
			}
			if got != tt.want {
				t.Errorf("amount: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLockKeyFoldsHighBits(t *testing.T) {
	if lockKey(7) != 7 {
		t.Errorf("small ids map to themselves")
	}
	if lockKey(1<<32|7) == lockKey(7) {
		t.Errorf("high bits must influence the key")
	}
}

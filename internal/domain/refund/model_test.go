package refund

import (
	"errors"
	"testing"
)

func TestAfterFee(t *testing.T) {
	tests := []struct {
		name    string
		request int64
		fee     int64
		want    int64
		wantErr error
	}{
		{"normal", 50000, 10000, 40000, nil},
		{"zero fee", 500, 0, 500, nil},
		{"equal to fee", 10000, 10000, 0, ErrAmountBelowFee},
		{"zero request", 0, 10000, 0, ErrNonPositiveAmount},
		{"negative request", -1, 0, 0, ErrNonPositiveAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AfterFee(tt.request, tt.fee)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AfterFee() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AfterFee() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckAvailable(t *testing.T) {
	if err := CheckAvailable(500, 1000, 500); err != nil {
		t.Errorf("CheckAvailable(500, 1000, 500) = %v, want nil", err)
	}
	if err := CheckAvailable(501, 1000, 500); !errors.Is(err, ErrExceedsBalance) {
		t.Errorf("CheckAvailable(501, 1000, 500) = %v, want ErrExceedsBalance", err)
	}
}

package models

import "testing"

func TestIsTerminalEscrowStatus(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{EscrowStatusReleased, true},
		{EscrowStatusRefunded, true},
		{EscrowStatusPending, false},
		{EscrowStatusHeldInEscrow, false},
		// failed and transfer_failed stay open so a late success or a
		// retried transfer can still land.
		{EscrowStatusFailed, false},
		{EscrowStatusTransferFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := IsTerminalEscrowStatus(tt.status); got != tt.terminal {
				t.Errorf("IsTerminalEscrowStatus(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

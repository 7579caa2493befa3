package app

import (
	"testing"
)

func TestParseCommand_DefaultsToServe(t *testing.T) {
	cmd := ParseCommand([]string{})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseCommand_KnownCommands(t *testing.T) {
	for _, want := range []Command{
		CommandServe, CommandMigrate, CommandHealthcheck,
		CommandStart, CommandClick, CommandClaim, CommandStats, CommandGlobal,
	} {
		if got := ParseCommand([]string{string(want)}); got != want {
			t.Errorf("ParseCommand([%s]) = %q, want %q", want, got, want)
		}
	}
}

func TestParseCommand_UnknownDefaultsToServe(t *testing.T) {
	cmd := ParseCommand([]string{"worker"})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([worker]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseCommand_IgnoresExtraArgs(t *testing.T) {
	cmd := ParseCommand([]string{"claim", "alice", "wallet"})
	if cmd != CommandClaim {
		t.Errorf("ParseCommand([claim alice wallet]) = %q, want %q", cmd, CommandClaim)
	}
}

func TestCommand_IsMining(t *testing.T) {
	tests := []struct {
		cmd  Command
		want bool
	}{
		{CommandStart, true},
		{CommandClick, true},
		{CommandClaim, true},
		{CommandStats, true},
		{CommandGlobal, true},
		{CommandServe, false},
		{CommandMigrate, false},
		{CommandHealthcheck, false},
	}

	for _, tt := range tests {
		if got := tt.cmd.IsMining(); got != tt.want {
			t.Errorf("%s.IsMining() = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

func TestParseMiningArgs(t *testing.T) {
	tests := []struct {
		args     []string
		wantUser string
		wantAddr string
	}{
		{[]string{"start"}, DefaultCLIUserID, DefaultCLIUserID},
		{[]string{"click", "alice"}, "alice", "alice"},
		{[]string{"claim", "alice", "wallet-a"}, "alice", "wallet-a"},
		{[]string{"claim", "", ""}, DefaultCLIUserID, DefaultCLIUserID},
	}

	for _, tt := range tests {
		user, addr := parseMiningArgs(tt.args)
		if user != tt.wantUser || addr != tt.wantAddr {
			t.Errorf("parseMiningArgs(%v) = %q, %q, want %q, %q", tt.args, user, addr, tt.wantUser, tt.wantAddr)
		}
	}
}

package main

import (
	"testing"
)

func TestCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "transcribe"} {
		if !names[want] {
			t.Errorf("Expected %s command to be registered", want)
		}
	}
}

func TestFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		def  string
	}{
		{"serve", "port", "0"},
		{"transcribe", "realtime", "true"},
		{"transcribe", "partial", "false"},
	}

	for _, tt := range tests {
		c, _, err := rootCmd.Find([]string{tt.cmd})
		if err != nil {
			t.Fatalf("Find(%s) failed: %v", tt.cmd, err)
		}
		f := c.Flags().Lookup(tt.flag)
		if f == nil {
			t.Errorf("Expected flag --%s on %s", tt.flag, tt.cmd)
			continue
		}
		if f.DefValue != tt.def {
			t.Errorf("Expected --%s default %s, got %s", tt.flag, tt.def, f.DefValue)
		}
	}
}

func TestTranscribe_RequiresFile(t *testing.T) {
	if err := transcribeCmd.Args(transcribeCmd, nil); err == nil {
		t.Error("Expected an error without a file argument")
	}
	if err := transcribeCmd.Args(transcribeCmd, []string{"a.wav", "b.wav"}); err == nil {
		t.Error("Expected an error with two file arguments")
	}
	if err := transcribeCmd.Args(transcribeCmd, []string{"a.wav"}); err != nil {
		t.Errorf("Expected one file to be accepted, got %v", err)
	}
}

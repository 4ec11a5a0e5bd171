package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLanguages(t *testing.T) {
	out, err := run(t, "languages")
	require.NoError(t, err)
	require.Contains(t, out, "LANGUAGE")
	require.Contains(t, out, "hindi")
	require.Contains(t, out, "sanskrit")
	require.Equal(t, 15, len(strings.Split(strings.TrimSpace(out), "\n")))
}

func TestTranslate(t *testing.T) {
	t.Setenv("TRANSLATION_PROVIDER", "mock")

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"explicit source", []string{"translate", "--from", "english", "--to", "hindi", "good", "morning"}, "[hi] good morning", false},
		{"same language", []string{"translate", "--from", "en", "--to", "english", "hello"}, "hello", false},
		{"unsupported target", []string{"translate", "--to", "klingon", "hello"}, "", true},
		{"no text", []string{"translate", "--to", "hindi"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, strings.TrimSpace(out))
		})
	}
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := run(t, "migrate", "up")
	require.ErrorContains(t, err, "DATABASE_URL")
}

package main

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no args", nil, exitUsage},
		{"one arg", []string{"6667"}, exitUsage},
		{"three args", []string{"6667", "pw", "extra"}, exitUsage},
		{"unknown flag", []string{"-nope", "6667", "pw"}, exitUsage},
		{"port not a number", []string{"irc", "pw"}, exitValidate},
		{"port too low", []string{"80", "pw"}, exitValidate},
		{"port too high", []string{"70000", "pw"}, exitValidate},
		{"empty password", []string{"6667", ""}, exitValidate},
		{"missing config", []string{"-config", "/nonexistent/ircd.yaml", "6667", "pw"}, exitValidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(tt.args, io.Discard))
		})
	}
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, exitUsage, run([]string{"6667"}, &out))
	assert.Contains(t, out.String(), "usage: ircd [flags] <port> <password>")
}

func TestRunPortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "0.0.0.0:0")
	require.NoError(t, err)
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	assert.Equal(t, exitInit, run([]string{strconv.Itoa(port), "pw"}, io.Discard))
}

package testutil

import (
	"errors"
	"strings"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestStartContainer_PanicBecomesError(t *testing.T) {
	_, err := startContainer(func() (*tcpostgres.PostgresContainer, error) {
		panic("could not find a working docker host")
	})
	if err == nil {
		t.Fatal("expected an error from a panicking start")
	}
	if !strings.Contains(err.Error(), "docker host") {
		t.Errorf("error should carry the panic message, got %q", err)
	}
}

func TestStartContainer_ErrorPassesThrough(t *testing.T) {
	want := errors.New("daemon unreachable")
	c, err := startContainer(func() (*tcpostgres.PostgresContainer, error) {
		return nil, want
	})
	if c != nil {
		t.Errorf("expected nil container, got %v", c)
	}
	if !errors.Is(err, want) {
		t.Errorf("expected the start error back, got %v", err)
	}
}

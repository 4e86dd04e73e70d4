package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/signup/internal/api"
	"example.com/signup/internal/domain"
	"example.com/signup/internal/registry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRosterctlWorkflow(t *testing.T) {
	service := domain.NewService(registry.NewInMemoryStore(registry.DefaultCatalog()), nil)
	mux := http.NewServeMux()
	api.NewHandler(service, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "list")
	require.NoError(t, err)
	require.Contains(t, out, "Chess Club (Fridays, 3:30 PM - 5:00 PM)")
	require.Contains(t, out, "10 spots left")

	out, err = execute(t, "--server", srv.URL, "signup", "Chess Club", "cli@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, "Signed up cli@mergington.edu for Chess Club\n", out)

	_, err = execute(t, "--server", srv.URL, "signup", "Chess Club", "cli@mergington.edu")
	require.ErrorIs(t, err, domain.ErrAlreadySignedUp)

	out, err = execute(t, "--server", srv.URL, "show", "Chess Club")
	require.NoError(t, err)
	require.Contains(t, out, "Chess Club (Fridays, 3:30 PM - 5:00 PM)")
	require.Contains(t, out, "9 spots left")
	require.Contains(t, out, "cli@mergington.edu")

	_, err = execute(t, "--server", srv.URL, "show", "NoSuchActivity")
	require.ErrorIs(t, err, domain.ErrActivityNotFound)

	out, err = execute(t, "--server", srv.URL, "remove", "Chess Club", "cli@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, "Unregistered cli@mergington.edu from Chess Club\n", out)
}

func TestRosterctlRequiresArguments(t *testing.T) {
	_, err := execute(t, "signup", "Chess Club")
	require.Error(t, err)
}

package serviceutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFatalExits(t *testing.T) {
	if os.Getenv("SERVICEUTIL_FATAL") == "1" {
		Fatal("startup failed", errors.New("no browser"))
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestFatalExits$")
	cmd.Env = append(os.Environ(), "SERVICEUTIL_FATAL=1")
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected a non zero exit, got %v", err)
	require.Equal(t, 1, exitErr.ExitCode())
	require.Contains(t, string(out), "startup failed")
	require.Contains(t, string(out), "no browser")
}

func TestStartHttpServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartHttpServer(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
	}()

	var res *http.Response
	require.Eventually(t, func() bool {
		res, err = http.Get("http://" + addr)
		return err == nil
	}, time.Second*5, time.Millisecond*20)
	res.Body.Close()
	require.Equal(t, http.StatusTeapot, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 10):
		t.Fatal("server did not shut down")
	}
}

package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"testing"

	"panelwatch/internal/components/telemetry/telemetrytest"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSmtpConfigEnabled(t *testing.T) {
	cases := []struct {
		name     string
		config   SmtpConfig
		expected bool
	}{
		{name: "empty", config: SmtpConfig{}},
		{
			name:   "no recipients",
			config: SmtpConfig{Server: "mail", EmailAddress: "bot@example.com"},
		},
		{
			name: "complete",
			config: SmtpConfig{
				Server:       "mail",
				EmailAddress: "bot@example.com",
				Recipients:   []string{"ops@example.com"},
			},
			expected: true,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, test.config.Enabled())
		})
	}
}

func TestNop(t *testing.T) {
	require.NoError(t, Nop{}.Alert(context.Background(), "subject", "body"))
}

func TestMailerCancelled(t *testing.T) {
	rec := &telemetrytest.Recorder{}
	mailer := NewMailer(SmtpConfig{
		// nothing listens on the discard port
		Server:       "127.0.0.1",
		Port:         9,
		EmailAddress: "bot@example.com",
		Recipients:   []string{"ops@example.com"},
	}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mailer.Alert(ctx, "subject", "body")
	require.Error(t, err)
	require.NotEmpty(t, rec.Reports("warning", report_mailer_alert))
}

func TestMailerSends(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025/tcp", "1080/tcp"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	if err != nil {
		t.Skipf("could not start fake smtp server: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	smtpPort, err := container.MappedPort(ctx, "1025/tcp")
	require.NoError(t, err)
	webPort, err := container.MappedPort(ctx, "1080/tcp")
	require.NoError(t, err)
	port, err := strconv.Atoi(smtpPort.Port())
	require.NoError(t, err)

	mailer := NewMailer(SmtpConfig{
		Server:       "localhost",
		Port:         port,
		EmailAddress: "bot@example.com",
		Password:     "default",
		Recipients:   []string{"ops@example.com"},
	}, &telemetrytest.Recorder{})

	err = mailer.Alert(ctx, "panelwatch needs a login", "the panel session expired")
	require.NoError(t, err)

	res, err := resty.New().R().
		Get(fmt.Sprintf("http://localhost:%s/messages/1.plain", webPort.Port()))
	require.NoError(t, err)
	require.Contains(t, res.String(), "the panel session expired")
}

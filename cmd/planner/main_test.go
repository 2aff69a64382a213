package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
)

const testSecret = "cli-test-secret-0123456789"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("PLANNER_AUTH_JWT_SECRET", testSecret)

	out, err := run(t, "token", "--user", "u1", "--email", "u1@example.com")
	require.NoError(t, err)

	verifier, err := auth.NewHMAC(testSecret, "planner")
	require.NoError(t, err)
	id, err := verifier.Authenticate(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "u1@example.com", id.Email)
}

func TestTokenCommandRequiresUserAndSecret(t *testing.T) {
	t.Setenv("PLANNER_AUTH_JWT_SECRET", testSecret)
	_, err := run(t, "token")
	assert.ErrorContains(t, err, "--user")

	t.Setenv("PLANNER_AUTH_JWT_SECRET", "")
	_, err = run(t, "token", "--user", "u1")
	assert.Error(t, err)
}

func TestMigrateStatusInMemoryBuild(t *testing.T) {
	out, err := run(t, "migrate", "status")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestInvalidConfigIsRejected(t *testing.T) {
	t.Setenv("PLANNER_LLM_PROVIDER", "carrier-pigeon")
	_, err := run(t, "migrate", "status")
	assert.ErrorContains(t, err, "llm.provider")
}

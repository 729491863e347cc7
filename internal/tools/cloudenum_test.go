package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

func TestCloudEnumRejectsNonCloudProvider(t *testing.T) {
	tool := NewCloudEnum(config.CloudEnumConfig{BinaryPath: "cloudlist"}, toolLogger(t))

	input, err := json.Marshal(CloudEnumInput{Provider: types.SourceTypeGithub})
	require.NoError(t, err)

	_, err = tool.Run(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestCloudEnumRejectsIncompleteCredentials(t *testing.T) {
	tool := NewCloudEnum(config.CloudEnumConfig{BinaryPath: "cloudlist"}, toolLogger(t))

	input, err := json.Marshal(CloudEnumInput{
		Provider:    types.SourceTypeAWS,
		Credentials: types.Credentials{Provider: types.SourceTypeAWS},
	})
	require.NoError(t, err)

	_, err = tool.Run(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestParseResources(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		resources, err := parseResources([]byte(`[{"key":"i-1","name":"a"},{"key":"i-2","name":"b"}]`))
		require.NoError(t, err)
		require.Len(t, resources, 2)
		assert.Equal(t, "i-1", resources[0].Key)
	})

	t.Run("newline delimited", func(t *testing.T) {
		resources, err := parseResources([]byte("{\"key\":\"i-1\"}\n{\"key\":\"i-2\"}\n"))
		require.NoError(t, err)
		require.Len(t, resources, 2)
		assert.Equal(t, "i-2", resources[1].Key)
	})

	t.Run("empty output", func(t *testing.T) {
		resources, err := parseResources([]byte("  \n"))
		require.NoError(t, err)
		assert.Empty(t, resources)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseResources([]byte("no json here"))
		require.Error(t, err)
	})
}

func TestCredentialEnv(t *testing.T) {
	env := credentialEnv(types.Credentials{
		Provider: types.SourceTypeAWS,
		AWS: &types.AWSCredentials{
			AccessKeyID:     "AKID",
			SecretAccessKey: "SECRET",
			Regions:         []string{"us-east-1", "eu-west-1"},
		},
	})

	assert.Contains(t, env, "AWS_ACCESS_KEY_ID=AKID")
	assert.Contains(t, env, "AWS_SECRET_ACCESS_KEY=SECRET")
	assert.Contains(t, env, "AWS_REGION=us-east-1")
	assert.NotContains(t, env, "AWS_SESSION_TOKEN=")
}

package secret

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSMClient struct {
	params map[string]string
	calls  int
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if !aws.ToBool(input.WithDecryption) {
		return nil, fmt.Errorf("decryption not requested")
	}
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", *input.Name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Name: input.Name, Value: aws.String(val)},
	}, nil
}

func TestSSMResolver_GetSecret(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{
		"/eremconecta/supabase-anon-key": "anon-123",
	}}
	r := NewSSMResolver(client)

	val, err := r.GetSecret(context.Background(), "/eremconecta/supabase-anon-key")
	require.NoError(t, err)
	assert.Equal(t, "anon-123", val)

	_, err = r.GetSecret(context.Background(), "/eremconecta/missing")
	assert.Error(t, err)
}

func TestEnvResolver_GetSecret(t *testing.T) {
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-from-env")
	r := NewEnvResolver()

	val, err := r.GetSecret(context.Background(), "/eremconecta/supabase-jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-from-env", val)

	t.Setenv("SUPABASE_JWT_SECRET", "")
	_, err = r.GetSecret(context.Background(), "/eremconecta/supabase-jwt-secret")
	assert.Error(t, err)
}

func TestParamNameToEnvVar(t *testing.T) {
	tests := map[string]string{
		"/eremconecta/supabase-anon-key":   "SUPABASE_ANON_KEY",
		"/eremconecta/supabase-jwt-secret": "SUPABASE_JWT_SECRET",
		"plain-name":                       "PLAIN_NAME",
	}
	for in, want := range tests {
		assert.Equal(t, want, paramNameToEnvVar(in), in)
	}
}

func TestResolve_PrefersLiteralValue(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{"/p": "from-ssm"}}
	r := NewSSMResolver(client)

	val, err := Resolve(context.Background(), r, "literal", "/p")
	require.NoError(t, err)
	assert.Equal(t, "literal", val)
	assert.Zero(t, client.calls)

	val, err = Resolve(context.Background(), r, "", "/p")
	require.NoError(t, err)
	assert.Equal(t, "from-ssm", val)

	_, err = Resolve(context.Background(), r, "", "")
	assert.Error(t, err)
}

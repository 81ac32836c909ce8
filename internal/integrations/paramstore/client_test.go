package paramstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves a fixed output and records the last request.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	calls  int
	last   *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.last = in
	return f.getOut, f.getErr
}

type fakeGetter struct {
	value string
	err   error
}

func (f fakeGetter) GetParameter(context.Context, string) (string, error) {
	return f.value, f.err
}

func output(value *string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: aws.String("/mc/open-ai-token"), Value: value, Type: types.ParameterTypeSecureString,
	}}
}

func TestGetParameter(t *testing.T) {
	cases := []struct {
		name    string
		api     *fakeAPI
		param   string
		want    string
		wantErr string
	}{
		{name: "decrypts value", api: &fakeAPI{getOut: output(aws.String(`{"token":"t"}`))}, param: " /mc/open-ai-token ", want: `{"token":"t"}`},
		{name: "missing value", api: &fakeAPI{getOut: output(nil)}, param: "/mc/x", wantErr: "missing value"},
		{name: "nil output", api: &fakeAPI{}, param: "/mc/x", wantErr: "missing value"},
		{name: "api error", api: &fakeAPI{getErr: errors.New("AccessDenied")}, param: "/mc/x", wantErr: "AccessDenied"},
		{name: "blank name", api: &fakeAPI{}, param: "  ", wantErr: "required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := New(tc.api)
			require.NoError(t, err)
			got, err := client.GetParameter(context.Background(), tc.param)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, "/mc/open-ai-token", aws.ToString(tc.api.last.Name))
			require.True(t, aws.ToBool(tc.api.last.WithDecryption))
		})
	}
}

func TestGetParameter_CachesWithinTTL(t *testing.T) {
	api := &fakeAPI{getOut: output(aws.String("v"))}
	client, err := New(api, WithCacheTTL(time.Minute))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		v, err := client.GetParameter(context.Background(), "p")
		require.NoError(t, err)
		require.Equal(t, "v", v)
	}
	require.Equal(t, 1, api.calls)

	uncached, err := New(api, WithCacheTTL(0))
	require.NoError(t, err)
	_, _ = uncached.GetParameter(context.Background(), "p")
	_, _ = uncached.GetParameter(context.Background(), "p")
	require.Equal(t, 3, api.calls)
}

func TestGetParameter_ErrorsAreNotCached(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("throttled")}
	client, err := New(api, WithCacheTTL(time.Minute))
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)

	api.getErr = nil
	api.getOut = output(aws.String("v"))
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, 2, api.calls)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")

	_, err = (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestFetchToken(t *testing.T) {
	tok, err := FetchToken(context.Background(), fakeGetter{value: `{"token":" abc "}`}, "/x/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	_, err = FetchToken(context.Background(), fakeGetter{value: `{"token":""}`}, "/x")
	require.ErrorContains(t, err, "empty")

	_, err = FetchToken(context.Background(), fakeGetter{value: `not-json`}, "/x")
	require.ErrorContains(t, err, "unmarshal")

	_, err = FetchToken(context.Background(), fakeGetter{err: errors.New("denied")}, "/x")
	require.ErrorContains(t, err, "denied")

	_, err = FetchToken(context.Background(), nil, "/x")
	require.Error(t, err)

	_, err = FetchToken(context.Background(), fakeGetter{}, " ")
	require.ErrorContains(t, err, "name is empty")
}

func TestFetchList(t *testing.T) {
	got, err := FetchList(context.Background(), fakeGetter{value: "gpt-4o-mini, ,gpt-4.1-mini"}, "/x")
	require.NoError(t, err)
	require.Equal(t, []string{"gpt-4o-mini", "gpt-4.1-mini"}, got)

	_, err = FetchList(context.Background(), fakeGetter{value: " , "}, "/x")
	require.ErrorContains(t, err, "empty")
}

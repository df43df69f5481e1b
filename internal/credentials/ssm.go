package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the slice of the AWS SSM client SSM needs.
// *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM reads the credential from a Parameter Store parameter. The value is
// either the bare key or a JSON object {"token": "..."}.
type SSM struct {
	api  ssmAPI
	name string
}

func NewSSM(api ssmAPI, name string) (*SSM, error) {
	if api == nil {
		return nil, errors.New("credentials: ssm api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credentials: ssm parameter name is required")
	}
	return &SSM{api: api, name: name}, nil
}

func (s *SSM) Credential(ctx context.Context) (string, error) {
	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &s.name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", ErrNotConfigured
		}
		return "", fmt.Errorf("credentials: get parameter %q: %w", s.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", ErrNotConfigured
	}
	return parseParameter(*out.Parameter.Value)
}

func parseParameter(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNotConfigured
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("credentials: parse parameter: %w", err)
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return "", ErrNotConfigured
	}
	return token, nil
}

package paramstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// TokenParam is the parameter name, relative to the prefix, holding the
// generation service token as {"token": "..."}.
const TokenParam = "llm-token"

// SettingsParam is the sub-path, relative to the prefix, whose parameters
// override configuration keys (one parameter per key).
const SettingsParam = "settings"

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (e.g. the generation client) depend on this interface rather
// than the concrete *Client so they remain testable without real AWS calls.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval under a common prefix.
type Client struct {
	api    ssmAPI
	prefix string
}

// New creates a Client with the given SSM API implementation. Relative names
// passed to Client methods are resolved under prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, prefix: strings.TrimSpace(prefix)}, nil
}

// Name resolves name under the client prefix. Absolute names are returned as is.
func (c *Client) Name(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "/") || c.prefix == "" {
		return name
	}
	return path.Join("/", c.prefix, name)
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = c.Name(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// GetByPath returns every parameter directly under dir, keyed by the last
// segment of the parameter name.
func (c *Client) GetByPath(ctx context.Context, dir string) (map[string]string, error) {
	if c.api == nil {
		return nil, errors.New("paramstore: client not initialized")
	}
	dir = c.Name(dir)
	if dir == "" {
		return nil, errors.New("paramstore: path is required")
	}

	values := make(map[string]string)
	pages := ssm.NewGetParametersByPathPaginator(c.api, &ssm.GetParametersByPathInput{
		Path:           aws.String(dir),
		WithDecryption: aws.Bool(true),
	})
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("paramstore: get parameters by path %q: %w", dir, err)
		}
		for _, p := range out.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			values[path.Base(*p.Name)] = *p.Value
		}
	}
	return values, nil
}

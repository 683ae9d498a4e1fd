package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	appconfig "github.com/wolfman30/llm-router/internal/config"
	"github.com/wolfman30/llm-router/internal/providers"
)

// LoadAWSConfig builds an SDK config pinned to one project's static
// credentials. Nothing from the host environment's credential chain is used.
// A non-nil httpClient is shared by every config built with it.
func LoadAWSConfig(ctx context.Context, creds providers.BedrockCredentials, httpClient aws.HTTPClient) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(creds.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
	}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// BedrockFactory returns the factory the Bedrock adapter calls once per
// request. Credentials differ per project, the HTTP transport does not.
// BEDROCK_ENDPOINT_OVERRIDE points every client at a local stub.
func BedrockFactory(cfg *appconfig.Config) providers.BedrockClientFactory {
	return bedrockFactory(cfg, awshttp.NewBuildableClient())
}

func bedrockFactory(cfg *appconfig.Config, httpClient aws.HTTPClient) providers.BedrockClientFactory {
	endpoint := ""
	if cfg != nil {
		endpoint = strings.TrimSpace(cfg.BedrockEndpoint)
	}
	return func(ctx context.Context, creds providers.BedrockCredentials) (providers.BedrockAPI, error) {
		awsCfg, err := LoadAWSConfig(ctx, creds, httpClient)
		if err != nil {
			return nil, err
		}
		client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		return providers.NewBedrockRuntime(client), nil
	}
}

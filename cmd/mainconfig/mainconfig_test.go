package mainconfig

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	appconfig "github.com/wolfman30/llm-router/internal/config"
	"github.com/wolfman30/llm-router/internal/providers"
)

// recordingHTTPClient denies every call and remembers who signed it.
type recordingHTTPClient struct {
	mu    sync.Mutex
	auths []string
}

func (c *recordingHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.auths = append(c.auths, req.Header.Get("Authorization"))
	c.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusForbidden,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"message":"denied"}`)),
		Request:    req,
	}, nil
}

func TestLoadAWSConfigUsesStaticCredentials(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_ACCESS_KEY_ID", "from-env")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "from-env")

	creds := providers.BedrockCredentials{AccessKeyID: "AKIATEST", SecretAccessKey: "secret", Region: "eu-west-1"}
	awsCfg, err := LoadAWSConfig(context.Background(), creds, nil)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	if awsCfg.Region != "eu-west-1" {
		t.Fatalf("expected region eu-west-1, got %s", awsCfg.Region)
	}
	got, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if got.AccessKeyID != "AKIATEST" || got.SecretAccessKey != "secret" {
		t.Fatalf("expected project credentials, got %s", got.AccessKeyID)
	}
}

func TestLoadAWSConfigKeepsSharedHTTPClient(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	shared := &recordingHTTPClient{}

	a, err := LoadAWSConfig(context.Background(), providers.BedrockCredentials{AccessKeyID: "a", SecretAccessKey: "b", Region: "us-east-1"}, shared)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	b, err := LoadAWSConfig(context.Background(), providers.BedrockCredentials{AccessKeyID: "c", SecretAccessKey: "d", Region: "us-west-2"}, shared)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	if a.HTTPClient != shared || b.HTTPClient != shared {
		t.Fatalf("expected both configs to use the shared HTTP client")
	}
}

func TestBedrockFactoryBuildsClient(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	factory := BedrockFactory(&appconfig.Config{BedrockEndpoint: "http://localhost:4566"})

	client, err := factory(context.Background(), providers.BedrockCredentials{AccessKeyID: "a", SecretAccessKey: "b", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if client == nil {
		t.Fatalf("expected client")
	}
}

func TestBedrockFactoryReusesTransportAcrossCredentials(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	shared := &recordingHTTPClient{}
	factory := bedrockFactory(&appconfig.Config{BedrockEndpoint: "http://localhost:4566"}, shared)

	for _, creds := range []providers.BedrockCredentials{
		{AccessKeyID: "AKIAFIRSTPROJECT0000", SecretAccessKey: "s1", Region: "us-east-1"},
		{AccessKeyID: "AKIASECONDPROJECT000", SecretAccessKey: "s2", Region: "us-east-1"},
	} {
		client, err := factory(context.Background(), creds)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if _, err := client.Converse(context.Background(), &bedrockruntime.ConverseInput{ModelId: aws.String("anthropic.claude-3-haiku")}); err == nil {
			t.Fatalf("expected access denied")
		}
	}

	shared.mu.Lock()
	defer shared.mu.Unlock()
	var first, second bool
	for _, auth := range shared.auths {
		first = first || strings.Contains(auth, "Credential=AKIAFIRSTPROJECT0000/")
		second = second || strings.Contains(auth, "Credential=AKIASECONDPROJECT000/")
	}
	if !first || !second {
		t.Fatalf("expected both credential sets to go through the shared client, got %d calls", len(shared.auths))
	}
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/internal/stream"
)

// BedrockCredentials are the plaintext AWS credentials for one call.
type BedrockCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// BedrockEventStream is satisfied by *bedrockruntime.ConverseStreamEventStream.
type BedrockEventStream interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Close() error
	Err() error
}

// BedrockAPI is the subset of the runtime client the adapter uses.
type BedrockAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (BedrockEventStream, error)
}

// BedrockClientFactory builds a runtime client for one set of credentials.
type BedrockClientFactory func(ctx context.Context, creds BedrockCredentials) (BedrockAPI, error)

type bedrockRuntime struct {
	client *bedrockruntime.Client
}

// NewBedrockRuntime adapts the SDK client to BedrockAPI.
func NewBedrockRuntime(client *bedrockruntime.Client) BedrockAPI {
	return &bedrockRuntime{client: client}
}

func (r *bedrockRuntime) Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	return r.client.Converse(ctx, in)
}

func (r *bedrockRuntime) ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (BedrockEventStream, error) {
	out, err := r.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, err
	}
	es := out.GetStream()
	if es == nil {
		return nil, errors.New("bedrock stream is nil")
	}
	return es, nil
}

// BedrockOptions configures the Bedrock adapter.
type BedrockOptions struct {
	DefaultRegion string
	Timeout       time.Duration
	MaxTokens     int
	Catalog       []conversation.Model
}

// Bedrock calls AWS Bedrock through the Converse API.
type Bedrock struct {
	factory       BedrockClientFactory
	resolver      *secrets.Resolver
	defaultRegion string
	timeout       time.Duration
	maxTokens     int
	catalog       []conversation.Model
}

func NewBedrock(factory BedrockClientFactory, resolver *secrets.Resolver, opts BedrockOptions) *Bedrock {
	if factory == nil {
		panic("providers: bedrock client factory cannot be nil")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxOutputTokens
	}
	if opts.Catalog == nil {
		opts.Catalog = BedrockCatalog
	}
	return &Bedrock{
		factory:       factory,
		resolver:      resolver,
		defaultRegion: opts.DefaultRegion,
		timeout:       opts.Timeout,
		maxTokens:     opts.MaxTokens,
		catalog:       opts.Catalog,
	}
}

func (a *Bedrock) Kind() Kind { return KindBedrock }

// credentials resolves all three parts; the key pair must be present before
// any client is built.
func (a *Bedrock) credentials(cfg Config) (BedrockCredentials, error) {
	var raw BedrockConfig
	if cfg.Bedrock != nil {
		raw = *cfg.Bedrock
	}
	accessKey, err := a.resolver.Resolve(raw.AccessKeyID)
	if err != nil {
		return BedrockCredentials{}, err
	}
	secretKey, err := a.resolver.Resolve(raw.SecretAccessKey)
	if err != nil {
		return BedrockCredentials{}, err
	}
	region, err := a.resolver.Resolve(raw.Region)
	if err != nil {
		return BedrockCredentials{}, err
	}
	if accessKey == "" || secretKey == "" {
		return BedrockCredentials{}, apperr.Credential("Please add your AWS access key and secret key on the LLM page", nil)
	}
	if region == "" {
		region = a.defaultRegion
	}
	if region == "" {
		return BedrockCredentials{}, apperr.Credential("Please add your AWS region on the LLM page", nil)
	}
	return BedrockCredentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Region: region}, nil
}

func (a *Bedrock) Send(ctx context.Context, conv conversation.Conversation, cfg Config, streaming bool) (resp stream.Response, err error) {
	if err := requireConversation(conv); err != nil {
		return stream.Response{}, err
	}
	creds, err := a.credentials(cfg)
	if err != nil {
		return stream.Response{}, err
	}

	ctx, span := startSpan(ctx, KindBedrock, "send", conv, streaming)
	defer func() { endSpan(span, err) }()

	api, err := a.factory(ctx, creds)
	if err != nil {
		return stream.Response{}, translate(string(KindBedrock), err)
	}

	system, messages := bedrockMessages(conv)
	inference := &brtypes.InferenceConfiguration{
		MaxTokens:   aws.Int32(int32(a.maxTokens)),
		Temperature: aws.Float32(float32(conv.Temperature)),
	}

	callCtx, cancel := withDeadline(ctx, a.timeout)
	if !streaming {
		defer cancel()
		out, err := api.Converse(callCtx, &bedrockruntime.ConverseInput{
			ModelId:         aws.String(conv.Model.ID),
			System:          system,
			Messages:        messages,
			InferenceConfig: inference,
		})
		if err != nil {
			return stream.Response{}, bedrockError(err)
		}
		text := bedrockOutputText(out)
		if text == "" {
			return stream.Response{}, apperr.NoContent(string(KindBedrock))
		}
		return stream.Batch(text), nil
	}

	events, err := api.ConverseStream(callCtx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(conv.Model.ID),
		System:          system,
		Messages:        messages,
		InferenceConfig: inference,
	})
	if err != nil {
		cancel()
		return stream.Response{}, bedrockError(err)
	}
	return stream.Streaming(bedrockChunks(callCtx, events, cancel)), nil
}

// bedrockChunks pumps the SDK event channel until it closes or the consumer
// calls Close. A deadline is still delivered to a consumer that keeps pulling.
func bedrockChunks(ctx context.Context, events BedrockEventStream, cancel context.CancelFunc) stream.Chunks {
	ch := make(chan stream.Delta)
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopped) })
		cancel()
	}

	go func() {
		defer close(ch)
		defer events.Close()

		emit := func(d stream.Delta) bool {
			select {
			case ch <- d:
				return true
			case <-stopped:
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				emit(stream.Delta{Err: translate(string(KindBedrock), ctx.Err())})
				return
			case event, ok := <-events.Events():
				if !ok {
					if err := events.Err(); err != nil {
						emit(stream.Delta{Err: bedrockError(err)})
					}
					return
				}
				if delta, ok := event.(*brtypes.ConverseStreamOutputMemberContentBlockDelta); ok {
					if text, ok := delta.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && text.Value != "" {
						if !emit(stream.Delta{Text: text.Value}) {
							return
						}
					}
				}
			}
		}
	}()
	return stream.FromChannel(ch, stop)
}

func bedrockMessages(conv conversation.Conversation) ([]brtypes.SystemContentBlock, []brtypes.Message) {
	system, turns := buildTurns(conv)
	var blocks []brtypes.SystemContentBlock
	if strings.TrimSpace(system) != "" {
		blocks = append(blocks, &brtypes.SystemContentBlockMemberText{Value: system})
	}
	messages := make([]brtypes.Message, 0, len(turns))
	for _, t := range turns {
		// Converse rejects blank text blocks.
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := brtypes.ConversationRoleUser
		if chatRole(t.Role) == string(conversation.RoleAssistant) {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: t.Text}},
		})
	}
	return blocks, messages
}

func bedrockOutputText(out *bedrockruntime.ConverseOutput) string {
	if out == nil {
		return ""
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String()
}

// bedrockError keeps the service's status and message when the SDK exposes them.
func bedrockError(err error) error {
	if ctxErr := apperr.FromContext(string(KindBedrock), err); ctxErr != nil {
		return ctxErr
	}
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.ErrorMessage()
		if msg == "" {
			msg = apiErr.ErrorCode()
		}
		return apperr.Provider(string(KindBedrock), status, msg, err)
	}
	return translate(string(KindBedrock), err)
}

func (a *Bedrock) ListModels(ctx context.Context, cfg Config) ([]conversation.Model, error) {
	if _, err := a.credentials(cfg); err != nil {
		return nil, err
	}
	out := make([]conversation.Model, len(a.catalog))
	copy(out, a.catalog)
	return out, nil
}

// BedrockCatalog lists the chat models offered through Bedrock.
var BedrockCatalog = []conversation.Model{
	{ID: "anthropic.claude-3-5-sonnet-20240620-v1:0", Name: "Claude 3.5 Sonnet", TokenLimit: 200000, Enabled: true},
	{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku", TokenLimit: 200000, Enabled: true},
	{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus", TokenLimit: 200000, Enabled: true},
	{ID: "meta.llama3-1-70b-instruct-v1:0", Name: "Llama 3.1 70B Instruct", TokenLimit: 128000, Enabled: true},
	{ID: "meta.llama3-1-8b-instruct-v1:0", Name: "Llama 3.1 8B Instruct", TokenLimit: 128000, Enabled: true},
	{ID: "mistral.mistral-large-2402-v1:0", Name: "Mistral Large", TokenLimit: 32000, Enabled: true},
	{ID: "amazon.titan-text-premier-v1:0", Name: "Titan Text Premier", TokenLimit: 32000, Enabled: true},
}

// String hides the secret key when credentials end up in a log line.
func (c BedrockCredentials) String() string {
	return fmt.Sprintf("BedrockCredentials{AccessKeyID:%s, Region:%s}", maskKey(c.AccessKeyID), c.Region)
}

func maskKey(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

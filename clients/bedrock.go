package clients

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/response"
)

// converseAPI is the part of the bedrockruntime client used here.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockInvoker runs models through the Bedrock Converse API.
type BedrockInvoker struct {
	api converseAPI
}

// NewBedrockInvoker loads the default AWS credential chain for region.
func NewBedrockInvoker(ctx context.Context, region string) (*BedrockInvoker, error) {
	if region == "" {
		return nil, fmt.Errorf("bedrock: region: %w", pferrors.ErrMissingIdentifier)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockInvoker{api: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

func newBedrockInvoker(api converseAPI) *BedrockInvoker {
	return &BedrockInvoker{api: api}
}

func (b *BedrockInvoker) Invoke(ctx context.Context, inv Invocation) (*Completion, error) {
	if strings.TrimSpace(inv.ModelID) == "" {
		return nil, fmt.Errorf("bedrock: model id: %w", pferrors.ErrMissingIdentifier)
	}

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(inv.ModelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: inv.Prompt}},
		}},
	}
	if inv.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: inv.System}}
	}
	if inv.MaxTokens > 0 {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(min(inv.MaxTokens, math.MaxInt32)))}
	}

	out, err := b.api.Converse(ctx, in)
	if err != nil {
		return nil, mapBedrockError(inv.ModelID, err)
	}

	c := &Completion{Model: inv.ModelID}
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		var sb strings.Builder
		for _, block := range msg.Value.Content {
			if t, ok := block.(*types.ContentBlockMemberText); ok {
				sb.WriteString(t.Value)
			}
		}
		c.Text = sb.String()
	}
	if out.Usage != nil {
		c.Usage = response.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return c, nil
}

// mapBedrockError sorts service faults into the conditions the tier negotiator
// retries on. Anything else passes through as a plain collaborator failure.
func mapBedrockError(model string, err error) error {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return fmt.Errorf("bedrock %s: %w", model, err)
	}
	switch ae.ErrorCode() {
	case "ThrottlingException", "ServiceQuotaExceededException":
		return fmt.Errorf("bedrock %s: %w: %s", model, pferrors.ErrThrottled, ae.ErrorMessage())
	case "ResourceNotFoundException", "ModelNotReadyException", "ServiceUnavailableException", "AccessDeniedException":
		return fmt.Errorf("bedrock %s: %w: %s", model, pferrors.ErrModelUnavailable, ae.ErrorMessage())
	}
	return fmt.Errorf("bedrock %s: %w", model, err)
}

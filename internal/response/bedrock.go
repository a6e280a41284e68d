package response

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockGenerator calls the Bedrock Converse API.
type BedrockGenerator struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockGenerator(api bedrockConverseAPI, modelID string) *BedrockGenerator {
	if api == nil {
		panic("response: bedrock converse client cannot be nil")
	}
	return &BedrockGenerator{api: api, modelID: modelID}
}

func (g *BedrockGenerator) Generate(ctx context.Context, prompt Prompt, c Constraints) (string, error) {
	if strings.TrimSpace(g.modelID) == "" {
		return "", errors.New("response: bedrock model id is required")
	}

	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(prompt.System))
	for _, block := range prompt.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(prompt.Messages))
	for _, msg := range prompt.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := brtypes.ConversationRoleUser
		switch msg.Role {
		case RoleUser:
		case RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return "", fmt.Errorf("response: unsupported role %q", msg.Role)
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}

	var inference *brtypes.InferenceConfiguration
	if c.MaxTokens > 0 || c.Temperature > 0 {
		inference = &brtypes.InferenceConfiguration{}
		if c.MaxTokens > 0 {
			inference.MaxTokens = aws.Int32(c.MaxTokens)
		}
		if c.Temperature > 0 {
			inference.Temperature = aws.Float32(c.Temperature)
		}
	}

	out, err := g.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(g.modelID),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	})
	if err != nil {
		return "", fmt.Errorf("response: bedrock converse: %w", err)
	}
	return bedrockExtractOutputText(out)
}

func bedrockExtractOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("response: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("response: bedrock response did not include a message output")
	}

	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

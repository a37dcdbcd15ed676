package llm

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

// BedrockModel is one foundation model reported by Bedrock's control
// plane, trimmed to what a CLI listing needs.
type BedrockModel struct {
	ID                 string
	Name               string
	Provider           string
	InputModalities    []string
	OutputModalities   []string
	StreamingSupported bool
}

// DiscoverBedrockModels lists ACTIVE foundation models available to the
// account in cfg.Region, optionally restricted to providers named in
// filter (case-insensitive, matched against the provider name or the
// model ID's dotted prefix).
func DiscoverBedrockModels(ctx context.Context, cfg BedrockConfig, filter []string) ([]BedrockModel, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, err
	}

	client := bedrock.NewFromConfig(awsCfg)
	output, err := client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, err
	}

	models := make([]BedrockModel, 0, len(output.ModelSummaries))
	for _, summary := range output.ModelSummaries {
		if !bedrockModelMatchesFilter(&summary, filter) {
			continue
		}
		models = append(models, toBedrockModel(&summary))
	}
	return models, nil
}

func bedrockModelMatchesFilter(summary *types.FoundationModelSummary, filter []string) bool {
	if summary.ModelLifecycle != nil {
		status := string(summary.ModelLifecycle.Status)
		if status != "" && status != "ACTIVE" {
			return false
		}
	}
	if len(filter) == 0 {
		return true
	}
	provider := strings.ToLower(aws.ToString(summary.ProviderName))
	modelID := strings.ToLower(aws.ToString(summary.ModelId))
	for _, f := range filter {
		f = strings.ToLower(f)
		if f == provider || strings.HasPrefix(modelID, f+".") {
			return true
		}
	}
	return false
}

func toBedrockModel(summary *types.FoundationModelSummary) BedrockModel {
	m := BedrockModel{
		ID:       aws.ToString(summary.ModelId),
		Name:     aws.ToString(summary.ModelName),
		Provider: aws.ToString(summary.ProviderName),
	}
	for _, in := range summary.InputModalities {
		m.InputModalities = append(m.InputModalities, string(in))
	}
	for _, out := range summary.OutputModalities {
		m.OutputModalities = append(m.OutputModalities, string(out))
	}
	m.StreamingSupported = aws.ToBool(summary.ResponseStreamingSupported)
	return m
}

package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

// AzureBackend generates text with an Azure OpenAI chat deployment.
type AzureBackend struct {
	client       *azopenai.Client
	deploymentID string
}

// NewAzureBackend creates an Azure OpenAI client authenticated by API key.
func NewAzureBackend(endpoint, apiKey, deploymentID string) (*AzureBackend, error) {
	keyCredential := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure openai client: %w", err)
	}
	return &AzureBackend{client: client, deploymentID: deploymentID}, nil
}

// Generate implements Backend.
func (a *AzureBackend) Generate(ctx context.Context, p Prompt, format Format) (string, error) {
	resp, err := a.client.GetChatCompletions(ctx, chatOptions(a.deploymentID, p, format), nil)
	if err != nil {
		return "", classifyAzureError(err)
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", errEmptyText
}

// chatOptions builds the request for p. JSON calls ask the service for a
// JSON object response.
func chatOptions(deploymentID string, p Prompt, format Format) azopenai.ChatCompletionsOptions {
	messages := []azopenai.ChatRequestMessageClassification{
		&azopenai.ChatRequestUserMessage{
			Content: azopenai.NewChatRequestUserMessageContent(p.User),
		},
	}
	if p.System != "" {
		systemMsg := &azopenai.ChatRequestSystemMessage{
			Content: azopenai.NewChatRequestSystemMessageContent(p.System),
		}
		messages = append([]azopenai.ChatRequestMessageClassification{systemMsg}, messages...)
	}

	temperature := float32(0.4)
	if format == FormatJSON {
		temperature = 0
	}

	opts := azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(deploymentID),
		Messages:       messages,
		Temperature:    &temperature,
	}
	if format == FormatJSON {
		opts.ResponseFormat = &azopenai.ChatCompletionsJSONResponseFormat{}
	}
	return opts
}

// classifyAzureError marks client errors other than throttling as permanent.
func classifyAzureError(err error) error {
	err = fmt.Errorf("azure openai chat completions: %w", err)

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return Permanent(err)
		}
	}
	return err
}

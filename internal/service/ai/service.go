package ai

import (
	"context"
	"errors"
	"fmt"

	"chatassist/internal/config"
	"chatassist/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// ErrInference marks failures of the external model backend so the
// request boundary can map them to a model-inference error response.
var ErrInference = errors.New("model inference error")

// Service wraps one configured chat model of an external provider.
type Service struct {
	chatModel model.BaseChatModel
	provider  string
	modelName string
}

// NewService builds the chat model for the given provider. An empty
// modelName falls back to the provider's configured default model.
func NewService(cfg *config.Config, provider, modelName string) (*Service, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if modelName == "" {
		modelName = provCfg.Model
	}

	var chatModel model.BaseChatModel
	var err error
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &Service{
		chatModel: chatModel,
		provider:  provider,
		modelName: modelName,
	}, nil
}

// Chat sends the full transcript to the model and returns the reply text.
// The transcript is converted turn by turn, preserving role and order.
func (s *Service) Chat(ctx context.Context, turns []models.Turn) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("transcript cannot be empty")
	}
	resp, err := s.chatModel.Generate(ctx, convertTurns(turns))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInference, err)
	}
	return resp.Content, nil
}

func convertTurns(turns []models.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		var role schema.RoleType
		switch turn.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: turn.Content,
		})
	}
	return messages
}

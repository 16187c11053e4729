package interfaces

import (
	"context"

	domaintypes "promptctl/internal/domain/types"
)

// PromptAPI is how we talk to the prompt service, all with context.
type PromptAPI interface {
	FetchChallenge(
		ctx context.Context,
		hash domaintypes.KeyHash,
		publicKey string,
	) (string, error)
	FetchPrompts(
		ctx context.Context,
		hash domaintypes.KeyHash,
		proof domaintypes.Proof,
	) ([]domaintypes.Prompt, error)
	SubmitResponse(
		ctx context.Context,
		id domaintypes.PromptID,
		response string,
		proof domaintypes.Proof,
	) error
	CreatePrompt(ctx context.Context, publicKey, message string) (string, error)
}

// ProofSource returns the proof to present at the moment of a (re)connect.
type ProofSource func() domaintypes.Proof

// ChannelDialer opens the push channel for one key.
type ChannelDialer interface {
	Dial(
		ctx context.Context,
		hash domaintypes.KeyHash,
		proof ProofSource,
	) (Channel, error)
}

// Channel is an open push channel. Events is closed once the channel stops;
// Err then reports why, or nil after Close.
type Channel interface {
	Events() <-chan domaintypes.PushEvent
	Err() error
	Close() error
}

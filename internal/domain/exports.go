package domain

import (
	interfaces "promptctl/internal/domain/interfaces"
	types "promptctl/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	KeyHash      = types.KeyHash
	KeySource    = types.KeySource
	KeyRecord    = types.KeyRecord
	Collection   = types.Collection
	PromptID     = types.PromptID
	Prompt       = types.Prompt
	EventKind    = types.EventKind
	PushEvent    = types.PushEvent
	Proof        = types.Proof
	SessionState = types.SessionState
	Cookie       = types.Cookie
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Storage       = interfaces.Storage
	Cookies       = interfaces.Cookies
	PromptAPI     = interfaces.PromptAPI
	ProofSource   = interfaces.ProofSource
	ChannelDialer = interfaces.ChannelDialer
	Channel       = interfaces.Channel
)

const (
	KeySourceLocal  = types.KeySourceLocal
	KeySourceCookie = types.KeySourceCookie

	EventConnected        = types.EventConnected
	EventNewPrompt        = types.EventNewPrompt
	EventChallengeUpdated = types.EventChallengeUpdated
	EventPromptResponded  = types.EventPromptResponded
	EventHeartbeat        = types.EventHeartbeat

	StateUnresolved     = types.StateUnresolved
	StateAuthenticating = types.StateAuthenticating
	StateSigning        = types.StateSigning
	StateAuthenticated  = types.StateAuthenticated
	StateFailed         = types.StateFailed
	StateClosed         = types.StateClosed

	CookiePublicKey = types.CookiePublicKey
	CookieProof     = types.CookieProof
)

// KeysSlot is the storage slot holding the serialized key collection.
const KeysSlot = "promptServiceKeys"

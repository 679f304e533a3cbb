package services

import (
	"errors"

	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

var (
	// ErrProviderAuth indicates a mailbox provider rejected its credentials
	ErrProviderAuth = mailbox.ErrAuth
	// ErrProviderTransient indicates a retryable mailbox provider failure
	ErrProviderTransient = mailbox.ErrTransient

	// ErrProviderNotFound indicates the provider is absent or inactive
	ErrProviderNotFound = errors.New("provider not found")
	// ErrInvalidProviderConfig indicates required configuration fields are missing or invalid
	ErrInvalidProviderConfig = errors.New("invalid provider configuration")
	// ErrCapabilityUnsupported indicates the provider cannot perform the requested capability
	ErrCapabilityUnsupported = errors.New("capability not supported by provider")

	// ErrMalformedMessage indicates raw message bytes could not be normalized
	ErrMalformedMessage = errors.New("malformed message")
	// ErrModelProvider indicates the classify or draft call failed
	ErrModelProvider = errors.New("model provider error")

	// ErrEmailNotFound indicates the email was not found
	ErrEmailNotFound = errors.New("email not found")
	// ErrInvalidTransition indicates the requested status change is not an allowed edge
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidStatus indicates an unknown workflow status name
	ErrInvalidStatus = errors.New("invalid email status")
	// ErrDraftLocked indicates the draft can no longer be changed because the reply was sent
	ErrDraftLocked = errors.New("draft is locked")
	// ErrDraftEdited indicates an automated draft would supersede a human edit
	ErrDraftEdited = errors.New("current draft was edited by a reviewer")

	// ErrSendPreconditionFailed indicates the email cannot be sent in its current state
	ErrSendPreconditionFailed = errors.New("send precondition failed")
	// ErrSendDelivery indicates the provider failed to deliver the reply
	ErrSendDelivery = errors.New("reply delivery failed")

	// ErrAttachmentNotFound indicates an attachment row or its stored content is missing
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrFetchInProgress indicates a fetch for the provider is already running
	ErrFetchInProgress = errors.New("fetch already in progress for provider")

	// ErrEncryptionFailed indicates secret encryption failed
	ErrEncryptionFailed = errors.New("secret encryption failed")
	// ErrDecryptionFailed indicates secret decryption failed
	ErrDecryptionFailed = errors.New("secret decryption failed")
)

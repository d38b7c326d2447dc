package inference

import "errors"

var (
	// ErrArtifactAccess reports that the active credential cannot read a
	// generated artifact (HTTP 401, 403 or 404). It is recoverable through
	// [CredentialResolver.ResolveCredential].
	ErrArtifactAccess = errors.New("inference: artifact not accessible with active credential")

	// ErrNoImage is returned when an image completion carried no image part.
	ErrNoImage = errors.New("inference: response contained no image")

	// ErrNoAudio is returned when speech synthesis carried no audio part.
	ErrNoAudio = errors.New("inference: response contained no audio")

	// ErrNoCredential is returned when no API key is configured.
	ErrNoCredential = errors.New("inference: no credential configured")
)

package domain

import "time"

// ErrorKind классифицирует восстановленный сбой, записанный в решении.
type ErrorKind string

const (
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindProvider       ErrorKind = "provider_error"
	ErrorKindInvalidSpeaker ErrorKind = "invalid_speaker"
	ErrorKindMalformed      ErrorKind = "malformed_response"
	ErrorKindGeneration     ErrorKind = "generation_error"
)

// ErrorDescriptor - сериализуемое описание восстановленного сбоя.
type ErrorDescriptor struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorDescriptor создает описание из err.
func NewErrorDescriptor(kind ErrorKind, err error, at time.Time) *ErrorDescriptor {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ErrorDescriptor{Kind: kind, Message: msg, Timestamp: at}
}

// SpeakerDecision - результат одного выбора следующего говорящего.
type SpeakerDecision struct {
	Speaker     Character        `json:"speaker"`
	Reason      string           `json:"reason"`
	SceneNote   string           `json:"sceneNote,omitempty"`
	Strategy    string           `json:"strategy"`
	UsedPrimary bool             `json:"usedPrimary"`
	Error       *ErrorDescriptor `json:"error,omitempty"`
	Latency     time.Duration    `json:"latency"`
}

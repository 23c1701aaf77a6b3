package service

import (
	"strings"

	"github.com/digkill/ThumbnailBot/internal/models"
)

// State is the conversation position of a user, rebuilt from the account row
// on every event.
type State interface {
	isState()
}

type Idle struct{}

type AwaitingConfirmation struct {
	Prompt string
}

func (Idle) isState()                 {}
func (AwaitingConfirmation) isState() {}

// DecodeState maps the nullable pending prompt column onto a State.
func DecodeState(account *models.Account) State {
	if account == nil || account.PendingPrompt == nil {
		return Idle{}
	}
	return AwaitingConfirmation{Prompt: *account.PendingPrompt}
}

type Input int

const (
	InputText Input = iota
	InputAffirmative
	InputNegative
)

func (i Input) String() string {
	switch i {
	case InputAffirmative:
		return "affirmative"
	case InputNegative:
		return "negative"
	default:
		return "text"
	}
}

// Tokens holds the literal replies accepted as yes and no.
type Tokens struct {
	Affirmative string
	Negative    string
}

func (t Tokens) Classify(text string) Input {
	switch strings.TrimSpace(text) {
	case t.Affirmative:
		return InputAffirmative
	case t.Negative:
		return InputNegative
	default:
		return InputText
	}
}

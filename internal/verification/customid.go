package verification

import (
	"strings"

	"aurox-gatekeeper/internal/challenge"
)

const (
	VerifyButtonID = "verify"
	AnswerInputID  = "captcha_answer"

	enterPrefix = "enter_"
	modalPrefix = "modal_"
)

type Action int

const (
	ActionVerify Action = iota + 1
	ActionEnter
	ActionSubmit
)

// CustomID is the decoded form of a component or modal id. Enter buttons and
// modals carry the kind of challenge and the id of the member they belong to.
type CustomID struct {
	Action Action
	Kind   challenge.Kind
	UserID string
}

func EnterButtonID(kind challenge.Kind, userID string) string {
	return enterPrefix + string(kind) + "_" + userID
}

func ModalID(kind challenge.Kind, userID string) string {
	return modalPrefix + string(kind) + "_" + userID
}

// ParseCustomID decodes ids produced by EnterButtonID and ModalID. The older
// "enter_<user>" form without a kind is read as an image challenge.
func ParseCustomID(id string) (CustomID, bool) {
	if id == VerifyButtonID {
		return CustomID{Action: ActionVerify}, true
	}

	var action Action
	var rest string
	switch {
	case strings.HasPrefix(id, enterPrefix):
		action, rest = ActionEnter, strings.TrimPrefix(id, enterPrefix)
	case strings.HasPrefix(id, modalPrefix):
		action, rest = ActionSubmit, strings.TrimPrefix(id, modalPrefix)
	default:
		return CustomID{}, false
	}

	kindPart, userID, found := strings.Cut(rest, "_")
	if !found {
		if rest == "" {
			return CustomID{}, false
		}
		return CustomID{Action: action, Kind: challenge.KindImage, UserID: rest}, true
	}
	kind, ok := challenge.ParseKind(kindPart)
	if !ok || userID == "" {
		return CustomID{}, false
	}
	return CustomID{Action: action, Kind: kind, UserID: userID}, true
}

package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/planor-ai/planor/pkg/models"
)

const maxBlockTextLength = 2900

const maxRequestPreviewLength = 200

var statusEmoji = map[models.PlanStatus]string{
	models.PlanStatusCompleted: ":white_check_mark:",
	models.PlanStatusFailed:    ":x:",
	models.PlanStatusCancelled: ":no_entry_sign:",
}

var statusLabel = map[models.PlanStatus]string{
	models.PlanStatusCompleted: "Plan Completed",
	models.PlanStatusFailed:    "Plan Failed",
	models.PlanStatusCancelled: "Plan Cancelled",
}

func planURL(sessionID, planID, dashboardURL string) string {
	return fmt.Sprintf("%s/sessions/%s/plans/%s", dashboardURL, sessionID, planID)
}

// SettledInput carries the fields a terminal notification renders.
type SettledInput struct {
	PlanID       string
	SessionID    string
	UserRequest  string
	Status       models.PlanStatus
	FinalResult  string
	ErrorMessage string
}

// BuildSettledMessage creates Block Kit blocks for a terminal plan
// notification: a status header with the request preview, the final result
// or error when present, and a dashboard link.
func BuildSettledMessage(input SettledInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Plan " + string(input.Status)
	}

	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if preview := previewRequest(input.UserRequest); preview != "" {
		headerText += fmt.Sprintf("\n> %s", preview)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	switch {
	case input.Status == models.PlanStatusCompleted && input.FinalResult != "":
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(input.FinalResult), false, false),
			nil, nil,
		))
	case input.Status == models.PlanStatusFailed && input.ErrorMessage != "":
		errText := fmt.Sprintf("*Error:*\n%s", truncateForSlack(input.ErrorMessage))
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, errText, false, false),
			nil, nil,
		))
	}

	buttonText := "View Plan"
	if input.Status == models.PlanStatusCompleted {
		buttonText = "View Full Result"
	}
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = planURL(input.SessionID, input.PlanID, dashboardURL)
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func previewRequest(request string) string {
	if len(request) <= maxRequestPreviewLength {
		return request
	}
	return request[:maxRequestPreviewLength] + "..."
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated, see dashboard for the full result)_"
}

package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// EventEmailData feeds the event delivery template.
type EventEmailData struct {
	Title       string
	StartTime   *time.Time
	EndTime     *time.Time
	Location    string
	Description string
	CalendarURL string
}

var eventEmailTmpl = template.Must(template.New("event").Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>{{.Title}}</h2>
  <table cellpadding="4">
    {{if .StartTime}}<tr><td><strong>Starts</strong></td><td>{{.StartTime.Format "Mon, 2 Jan 2006 15:04 MST"}}</td></tr>{{end}}
    {{if .EndTime}}<tr><td><strong>Ends</strong></td><td>{{.EndTime.Format "Mon, 2 Jan 2006 15:04 MST"}}</td></tr>{{end}}
    {{if .Location}}<tr><td><strong>Location</strong></td><td>{{.Location}}</td></tr>{{end}}
  </table>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  {{if .CalendarURL}}<p><a href="{{.CalendarURL}}">Add to your calendar</a></p>{{end}}
  <p style="color: #999; font-size: 12px;">Sent by QwikCal</p>
</body>
</html>`))

// RenderEventEmail renders the HTML body for an event delivery.
func RenderEventEmail(data EventEmailData) (string, error) {
	var buf bytes.Buffer
	if err := eventEmailTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render event email: %w", err)
	}
	return buf.String(), nil
}

var subscriptionEmailTmpl = template.Must(template.New("subscription").Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Your QwikCal subscription is {{.Status}}</h2>
  {{if .EndDate}}<p>Current period ends {{.EndDate.Format "Mon, 2 Jan 2006"}}.</p>{{end}}
  <p style="color: #999; font-size: 12px;">Sent by QwikCal</p>
</body>
</html>`))

// SubscriptionEmailData feeds the subscription notice template.
type SubscriptionEmailData struct {
	Status  string
	EndDate *time.Time
}

// RenderSubscriptionEmail renders the HTML body for a subscription notice.
func RenderSubscriptionEmail(data SubscriptionEmailData) (string, error) {
	var buf bytes.Buffer
	if err := subscriptionEmailTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render subscription email: %w", err)
	}
	return buf.String(), nil
}

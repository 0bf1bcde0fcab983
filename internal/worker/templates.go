package worker

import (
	"bytes"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"

	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/pkg/mailer"
	"github.com/packpal/backend/pkg/queue"
)

type inviteView struct {
	EventName   string
	InviterName string
	Role        string
	Link        string
	Direct      bool
}

const inviteText = `Hi,

{{.InviterName}} added you to "{{.EventName}}" on PackPal as {{.Role}}.
{{if .Direct}}
You are already a member. Sign in to see the packing list:
{{.Link}}
{{else}}
Accept the invite here:
{{.Link}}

If you were not expecting this, you can ignore this mail or decline from the link above.
{{end}}`

const inviteHTML = `<p>Hi,</p>
<p>{{.InviterName}} added you to <strong>{{.EventName}}</strong> on PackPal as {{.Role}}.</p>
{{if .Direct}}<p>You are already a member. <a href="{{.Link}}">Sign in</a> to see the packing list.</p>
{{else}}<p><a href="{{.Link}}">Accept the invite</a></p>
<p>If you were not expecting this, you can ignore this mail or decline from the link above.</p>
{{end}}`

var (
	inviteTextTmpl = texttemplate.Must(texttemplate.New("invite_text").Parse(inviteText))
	inviteHTMLTmpl = htmltemplate.Must(htmltemplate.New("invite_html").Parse(inviteHTML))
)

// inviteLink returns the accept link for token invites and the sign-in link
// for direct invites.
func inviteLink(baseURL, token string) string {
	if token == "" {
		return baseURL + "/login"
	}
	return baseURL + "/invite/" + url.PathEscape(token)
}

// renderInvite builds the invite mail. Temporary passwords are never part of it.
func renderInvite(baseURL string, p queue.InviteEmailPayload) (mailer.Message, string, error) {
	view := inviteView{
		EventName:   p.EventName,
		InviterName: p.InviterName,
		Role:        p.Role,
		Link:        inviteLink(baseURL, p.Token),
		Direct:      p.Token == "",
	}
	if view.InviterName == "" {
		view.InviterName = "Someone"
	}
	emailType := models.EmailTypeInvite
	subject := "You're invited to " + p.EventName
	if view.Direct {
		emailType = models.EmailTypeDirectInvite
		subject = "You've been added to " + p.EventName
	}

	var text, html bytes.Buffer
	if err := inviteTextTmpl.Execute(&text, view); err != nil {
		return mailer.Message{}, "", err
	}
	if err := inviteHTMLTmpl.Execute(&html, view); err != nil {
		return mailer.Message{}, "", err
	}
	return mailer.Message{
		To:       p.RecipientEmail,
		Subject:  subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, emailType, nil
}

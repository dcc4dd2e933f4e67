package mailer

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

// VerificationMessage: письмо с токеном подтверждения. kind: email|profile|password.
func VerificationMessage(to, name, kind, token string, ttl time.Duration) Message {
	var action string
	switch kind {
	case "email":
		action = "change the email address of your admin account"
	case "password":
		action = "change the password of your admin account"
	default:
		action = "update your admin profile"
	}
	body := fmt.Sprintf(`%s

We received a request to %s.
Your verification code is:

    %s

The code expires in %d minutes and can be used once.
If you did not request this, ignore this email; nothing will change.
`, greeting(name), action, token, int(ttl.Minutes()))

	return Message{
		To:      to,
		Subject: "Your verification code",
		Body:    body,
		Kind:    kind,
	}
}

// ResetLink собирает ссылку на страницу сброса пароля во фронтенде.
func ResetLink(frontendURL, accountID, token string) string {
	q := url.Values{}
	q.Set("id", accountID)
	q.Set("token", token)
	return strings.TrimRight(frontendURL, "/") + "/reset-password?" + q.Encode()
}

func ResetMessage(to, name, link string, ttl time.Duration) Message {
	body := fmt.Sprintf(`%s

Someone asked to reset the password of your admin account.
Open the link below to choose a new password:

%s

The link is valid for %s and stops working once the password changes.
If you did not request a reset, ignore this email.
`, greeting(name), link, ttl.String())

	return Message{
		To:      to,
		Subject: "Reset your password",
		Body:    body,
		Kind:    "reset",
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"

	"sokoBack/internal/models"
)

// MailerService sends transactional email over plain SMTP. It satisfies
// Notifier; callers treat every send as fire-and-forget.
type MailerService struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	Logger   *slog.Logger
}

func (m *MailerService) SendSubscriptionCreated(_ context.Context, user models.User, sub models.Subscription) error {
	subject := "Your subscription is active"
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\nYour %s subscription is now active.\r\nPrice: %.2f %s per month.\r\nNext billing date: %s.\r\n",
		user.Name, sub.Tier, sub.Price, sub.Currency, sub.NextBillingDate.Format("2 January 2006"),
	)
	return m.send(user, subject, body)
}

func (m *MailerService) SendRenewalReminder(_ context.Context, user models.User, sub models.Subscription, daysUntil int) error {
	subject := fmt.Sprintf("Your subscription renews in %d days", daysUntil)
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\nYour %s subscription renews on %s.\r\nAmount due: %.2f %s.\r\n",
		user.Name, sub.Tier, sub.NextBillingDate.Format("2 January 2006"), sub.Price, sub.Currency,
	)
	return m.send(user, subject, body)
}

func (m *MailerService) SendCancelled(_ context.Context, user models.User, sub models.Subscription, reason string) error {
	subject := "Your subscription has been cancelled"
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\nYour %s subscription has been cancelled.\r\n",
		user.Name, sub.Tier,
	)
	if strings.TrimSpace(reason) != "" {
		body += fmt.Sprintf("Reason: %s\r\n", reason)
	}
	return m.send(user, subject, body)
}

func (m *MailerService) send(user models.User, subject, body string) error {
	if strings.TrimSpace(user.Email) == "" {
		m.logger().Warn("skipping email, user has no address", "user_id", user.ID)
		return nil
	}
	if m.Host == "" {
		m.logger().Warn("smtp not configured, dropping email", "subject", subject)
		return nil
	}

	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + user.Email,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	addr := net.JoinHostPort(m.Host, m.Port)
	if err := smtp.SendMail(addr, auth, m.From, []string{user.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", user.Email, err)
	}
	return nil
}

func (m *MailerService) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

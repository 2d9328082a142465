package utils

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"mailburst/models"
)

const gmailSendURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"

// OutgoingMail is one message to one recipient, with attachments already
// resolved to transport-ready bytes.
type OutgoingMail struct {
	To          string
	ToName      string
	Subject     string
	Body        string
	Attachments []models.Attachment
}

// SendResult is what a transport reports back on success.
type SendResult struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// Transport executes one send against one recipient via a provider protocol.
type Transport interface {
	Send(ctx context.Context, sender *models.Sender, mail OutgoingMail) (*SendResult, error)
}

// TransportFor picks the delivery protocol for a provider family: the Gmail
// REST API for gmail accounts, authenticated SMTP for everything else.
func TransportFor(db *gorm.DB, provider string) Transport {
	if provider == models.ProviderGmail {
		return &gmailTransport{db: db, httpClient: &http.Client{Timeout: 30 * time.Second}}
	}
	return &smtpTransport{db: db}
}

// buildMessage assembles the MIME envelope shared by both transports:
// sanitized HTML leaf, content-id images embedded in a related part, regular
// attachments on the mixed outer part.
func buildMessage(sender *models.Sender, mail OutgoingMail) (*gomail.Message, string, error) {
	body := SanitizeHTML(mail.Body)
	body, inlineImages, err := InlineImages(body)
	if err != nil {
		return nil, "", err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(sender.FromEmail, sender.FromName))
	if mail.ToName != "" {
		m.SetHeader("To", m.FormatAddress(mail.To, mail.ToName))
	} else {
		m.SetHeader("To", mail.To)
	}
	m.SetHeader("Subject", mail.Subject)

	messageID := fmt.Sprintf("<%s@mailburst>", uuid.NewString())
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", body)

	for _, img := range inlineImages {
		img := img
		m.Embed(img.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			data, err := AttachmentBytes(img)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		}))
	}

	for _, att := range mail.Attachments {
		att := att
		m.Attach(att.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			data, err := AttachmentBytes(att)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		}))
	}

	return m, messageID, nil
}

// gmailTransport sends through the Gmail messages.send API, refreshing the
// stored OAuth token first when it has expired.
type gmailTransport struct {
	db         *gorm.DB
	httpClient *http.Client
}

func (t *gmailTransport) Send(ctx context.Context, sender *models.Sender, mail OutgoingMail) (*SendResult, error) {
	accessToken, err := FreshAccessToken(ctx, t.db, sender)
	if err != nil {
		return nil, err
	}

	m, _, err := buildMessage(sender, mail)
	if err != nil {
		return nil, err
	}

	var envelope bytes.Buffer
	if _, err := m.WriteTo(&envelope); err != nil {
		return nil, fmt.Errorf("assemble mime envelope: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"raw": base64.RawURLEncoding.EncodeToString(envelope.Bytes()),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gmailSendURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmail api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gmail api error %d: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("malformed gmail api response: %w", err)
	}

	return &SendResult{MessageID: apiResp.ID, SentAt: time.Now()}, nil
}

// SMTPSendTimeout bounds a whole SMTP session. gomail only bounds the TCP
// dial; a server that hangs after the greeting would otherwise pin a worker
// slot for good.
const SMTPSendTimeout = 60 * time.Second

// RunWithTimeout runs fn under the given deadline. A timed-out fn is
// abandoned with its connection; the caller moves on and the retry machinery
// decides what happens next.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// smtpTransport sends through an authenticated SMTP session. OAuth accounts
// (outlook, yahoo) authenticate with an XOAUTH2 bearer; password accounts use
// plain auth.
type smtpTransport struct {
	db *gorm.DB
}

func (t *smtpTransport) Send(ctx context.Context, sender *models.Sender, mail OutgoingMail) (*SendResult, error) {
	m, messageID, err := buildMessage(sender, mail)
	if err != nil {
		return nil, err
	}

	d, err := t.dialerFor(ctx, sender)
	if err != nil {
		return nil, err
	}

	if err := RunWithTimeout(ctx, SMTPSendTimeout, func() error { return d.DialAndSend(m) }); err != nil {
		return nil, fmt.Errorf("smtp send failed: %w", err)
	}

	return &SendResult{MessageID: messageID, SentAt: time.Now()}, nil
}

func (t *smtpTransport) dialerFor(ctx context.Context, sender *models.Sender) (*gomail.Dialer, error) {
	host, port, ssl, err := smtpEndpointFor(sender)
	if err != nil {
		return nil, err
	}

	d := &gomail.Dialer{
		Host: host,
		Port: port,
		SSL:  ssl,
	}
	d.TLSConfig = &tls.Config{ServerName: host}

	if sender.UsesOAuth() {
		accessToken, err := FreshAccessToken(ctx, t.db, sender)
		if err != nil {
			return nil, err
		}
		d.Auth = xoauth2Auth{username: sender.FromEmail, accessToken: accessToken}
		return d, nil
	}

	password, err := Decrypt(sender.SMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt smtp password: %w", err)
	}
	d.Username = sender.FromEmail
	d.Password = password
	return d, nil
}

func smtpEndpointFor(sender *models.Sender) (host string, port int, ssl bool, err error) {
	switch sender.Provider {
	case models.ProviderOutlook:
		return "smtp.office365.com", 587, false, nil
	case models.ProviderYahoo:
		return "smtp.mail.yahoo.com", 465, true, nil
	case models.ProviderSMTP:
		if sender.SMTPHost == "" {
			return "", 0, false, errors.New("sender has no smtp host configured")
		}
		return sender.SMTPHost, sender.SMTPPort, sender.SMTPSecure && sender.SMTPPort == 465, nil
	default:
		return "", 0, false, fmt.Errorf("provider %s has no smtp endpoint", sender.Provider)
	}
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism over net/smtp's Auth
// interface, for providers that accept OAuth bearers on their SMTP endpoints.
type xoauth2Auth struct {
	username    string
	accessToken string
}

func (a xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.accessToken)
	return "XOAUTH2", []byte(resp), nil
}

func (a xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// Server pushed an error blob; an empty response tells it to fail the
		// exchange with a proper SMTP code.
		return []byte{}, nil
	}
	return nil, nil
}
